package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/KeremKalyoncu/reelgrab/internal/errors"
	"github.com/KeremKalyoncu/reelgrab/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		platform types.Platform
		id       string
	}{
		{"instagram post", "https://www.instagram.com/p/ABC123/", types.PlatformInstagram, "ABC123"},
		{"instagram reel", "https://instagram.com/reel/Cx_9-z/?igsh=abc", types.PlatformInstagram, "Cx_9-z"},
		{"instagram user post", "https://www.instagram.com/someone/p/XyZ/", types.PlatformInstagram, "XyZ"},
		{"tiktok video", "https://www.tiktok.com/@u/video/7234567890123456789", types.PlatformTikTok, "7234567890123456789"},
		{"tiktok mobile", "https://m.tiktok.com/@u/video/42?lang=en", types.PlatformTikTok, "42"},
		{"tiktok short", "https://vm.tiktok.com/ZMabc/", types.PlatformTikTok, ShortLinkID},
		{"tiktok t link", "https://www.tiktok.com/t/ZTRabc/", types.PlatformTikTok, ShortLinkID},
		{"youtube watch", "https://youtube.com/watch?v=dQw4w9WgXcQ", types.PlatformYouTube, "dQw4w9WgXcQ"},
		{"youtube short host", "https://youtu.be/dQw4w9WgXcQ?t=10", types.PlatformYouTube, "dQw4w9WgXcQ"},
		{"youtube embed", "https://www.youtube.com/embed/dQw4w9WgXcQ", types.PlatformYouTube, "dQw4w9WgXcQ"},
		{"youtube shorts", "https://www.youtube.com/shorts/abcdefghijk", types.PlatformYouTube, "abcdefghijk"},
		{"youtube mobile", "https://m.youtube.com/watch?v=dQw4w9WgXcQ&feature=share", types.PlatformYouTube, "dQw4w9WgXcQ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := Classify(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.platform, target.Platform)
			assert.Equal(t, tt.id, target.ID)
			assert.Equal(t, tt.raw, target.URL)
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *apperrors.CustomError
	}{
		{"not a url", "not a url", apperrors.ErrInvalidURL},
		{"empty", "", apperrors.ErrInvalidURL},
		{"ftp scheme", "ftp://instagram.com/p/abc", apperrors.ErrInvalidURL},
		{"unsupported host", "https://vimeo.com/123", apperrors.ErrUnsupportedPlatform},
		{"lookalike host", "https://notinstagram.com/p/abc", apperrors.ErrUnsupportedPlatform},
		{"instagram profile", "https://www.instagram.com/someone/", apperrors.ErrIDNotExtractable},
		{"tiktok profile", "https://www.tiktok.com/@someone", apperrors.ErrIDNotExtractable},
		{"tiktok non numeric", "https://www.tiktok.com/@u/video/abc", apperrors.ErrIDNotExtractable},
		{"youtube channel", "https://www.youtube.com/@channel", apperrors.ErrIDNotExtractable},
		{"youtube injected id", "https://youtube.com/watch?v=a;rm -rf", apperrors.ErrIDNotExtractable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
		})
	}
}

func TestTargetKey(t *testing.T) {
	target, err := Classify("https://vm.tiktok.com/ZMabc/")
	require.NoError(t, err)
	assert.True(t, target.IsShortLink())
	assert.Equal(t, "tiktok:short_url", target.Key())
}

func TestCDNPlatform(t *testing.T) {
	p, ok := CDNPlatform("scontent-ams2-1.cdninstagram.com")
	assert.True(t, ok)
	assert.Equal(t, types.PlatformInstagram, p)

	p, ok = CDNPlatform("v16-webapp.tiktokcdn-us.com")
	assert.True(t, ok)
	assert.Equal(t, types.PlatformTikTok, p)

	_, ok = CDNPlatform("evil.example.com")
	assert.False(t, ok)

	assert.True(t, HostAllowed("rr1---sn.googlevideo.com", []string{"googlevideo.com"}))
	assert.False(t, HostAllowed("googlevideo.com.evil.io", []string{"googlevideo.com"}))
}
