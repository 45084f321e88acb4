package types

// Platform identifies a supported social media platform
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformUnknown   Platform = "unknown"
)

// Platforms lists the supported platforms in a stable order
var Platforms = []Platform{PlatformInstagram, PlatformTikTok, PlatformYouTube}

// ParsePlatform maps a lowercase name to a Platform
func ParsePlatform(name string) (Platform, bool) {
	switch Platform(name) {
	case PlatformInstagram, PlatformTikTok, PlatformYouTube:
		return Platform(name), true
	}
	return PlatformUnknown, false
}

// DeliveryMode tells the delivery engine how to obtain media bytes
type DeliveryMode string

const (
	// DeliveryProxy streams MediaURL directly from the platform CDN
	DeliveryProxy DeliveryMode = "proxy"
	// DeliveryTool downloads through the external tool into a temp file first
	DeliveryTool DeliveryMode = "tool"
)

// MediaRecord is the normalized, platform-independent description of a video
type MediaRecord struct {
	ID              string            `json:"id"`
	Platform        Platform          `json:"platform"`
	MediaURL        string            `json:"mediaUrl"`
	Delivery        DeliveryMode      `json:"delivery"`
	RequiredHeaders map[string]string `json:"requiredHeaders,omitempty"`
	ThumbnailURL    string            `json:"thumbnailUrl,omitempty"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	DurationSeconds float64           `json:"durationSeconds,omitempty"`
	Width           string            `json:"width,omitempty"`
	Height          string            `json:"height,omitempty"`
	Filename        string            `json:"filename"`
	Owner           Owner             `json:"owner"`
	Stats           *Stats            `json:"stats,omitempty"`
	PostedAt        int64             `json:"postedAtEpochSeconds,omitempty"`
	Hashtags        []string          `json:"hashtags,omitempty"`
	Music           *Music            `json:"music,omitempty"`
	Strategy        string            `json:"strategy"`
}

// Owner describes the account that published the media
type Owner struct {
	Username      string `json:"username"`
	FullName      string `json:"fullName,omitempty"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	IsVerified    bool   `json:"isVerified"`
}

// Stats holds engagement counters. Shares is nil when the platform does not report it.
type Stats struct {
	Likes    int64  `json:"likes"`
	Comments int64  `json:"comments"`
	Shares   *int64 `json:"shares,omitempty"`
	Views    int64  `json:"views"`
}

// Music describes the soundtrack attached to a short video
type Music struct {
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Clone returns a deep copy so callers can never mutate a cached record
func (r MediaRecord) Clone() MediaRecord {
	out := r
	if r.RequiredHeaders != nil {
		out.RequiredHeaders = make(map[string]string, len(r.RequiredHeaders))
		for k, v := range r.RequiredHeaders {
			out.RequiredHeaders[k] = v
		}
	}
	if r.Stats != nil {
		s := *r.Stats
		if r.Stats.Shares != nil {
			shares := *r.Stats.Shares
			s.Shares = &shares
		}
		out.Stats = &s
	}
	if r.Hashtags != nil {
		out.Hashtags = append([]string(nil), r.Hashtags...)
	}
	if r.Music != nil {
		m := *r.Music
		out.Music = &m
	}
	return out
}

// ToolInfo is the subset of yt-dlp's JSON info document the service consumes
type ToolInfo struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Duration     float64  `json:"duration"`
	Uploader     string   `json:"uploader"`
	UploaderID   string   `json:"uploader_id"`
	Channel      string   `json:"channel"`
	UploadDate   string   `json:"upload_date"`
	Timestamp    int64    `json:"timestamp"`
	ViewCount    int64    `json:"view_count"`
	LikeCount    int64    `json:"like_count"`
	CommentCount int64    `json:"comment_count"`
	Thumbnail    string   `json:"thumbnail"`
	WebpageURL   string   `json:"webpage_url"`
	URL          string   `json:"url"`
	Width        int      `json:"width"`
	Height       int      `json:"height"`
	Ext          string   `json:"ext"`
	Tags         []string `json:"tags"`
	Categories   []string `json:"categories"`
	Extractor    string   `json:"extractor_key"`
}

// ProcessResult is the outcome of one external tool download invocation
type ProcessResult struct {
	Success  bool      `json:"success"`
	FilePath string    `json:"filePath,omitempty"`
	Size     int64     `json:"size,omitempty"`
	Info     *ToolInfo `json:"info,omitempty"`
	Error    string    `json:"error,omitempty"`
}
