package cleanup

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// partialSuffixes are left behind by interrupted yt-dlp runs
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

var (
	fragmentPattern     = regexp.MustCompile(`\.part-Frag\d+(\.part)?$`)
	formatStreamPattern = regexp.MustCompile(`\.f\d+\.[A-Za-z0-9]+(\.part)?$`)
)

// SidecarSuffix is appended to a media stem for the tool's info document
const SidecarSuffix = ".info.json"

// IsPartialArtifact reports whether name is an incomplete download artifact
func IsPartialArtifact(name string) bool {
	for _, s := range partialSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return fragmentPattern.MatchString(name) || formatStreamPattern.MatchString(name)
}

// RemovePartials deletes partial artifacts and the sidecar belonging to stem in dir.
// Completed media files are left alone.
func RemovePartials(dir, stem string) error {
	return removeStem(dir, stem, func(name string) bool {
		return IsPartialArtifact(name) || strings.HasSuffix(name, SidecarSuffix)
	})
}

// RemoveStem deletes every file belonging to stem in dir, finished-looking
// media included. Used when the run that wrote them failed.
func RemoveStem(dir, stem string) error {
	return removeStem(dir, stem, func(string) bool { return true })
}

func removeStem(dir, stem string, match func(name string) bool) error {
	matches, err := filepath.Glob(filepath.Join(dir, globEscape(stem)+".*"))
	if err != nil {
		return err
	}

	var result error
	for _, path := range matches {
		if !match(filepath.Base(path)) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func globEscape(s string) string {
	r := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `\`, `\\`)
	return r.Replace(s)
}
