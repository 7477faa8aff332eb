package upload

import (
	"fmt"
	"io"
	"strings"

	"github.com/dhowden/tag"

	"github.com/justestif/syncmaster/internal/models"
)

// Prefill fills the blank title, artist and genre of meta from the tags
// embedded in file, and defaults the title to the file name. The file is
// rewound afterwards so it can be uploaded. Unreadable or missing tags are
// not an error.
func Prefill(file models.File, meta Metadata) (Metadata, error) {
	if file.Body == nil {
		return meta, models.Validationf("no file selected")
	}

	m, err := tag.ReadFrom(file.Body)
	if err == nil {
		if meta.Title == "" {
			meta.Title = strings.TrimSpace(m.Title())
		}
		if meta.Artist == "" {
			meta.Artist = strings.TrimSpace(m.Artist())
		}
		if meta.Genre == "" {
			meta.Genre = strings.TrimSpace(m.Genre())
		}
		if len(meta.Tags) == 0 && meta.Genre != "" {
			meta.Tags = []string{meta.Genre}
		}
	}
	if _, err := file.Body.Seek(0, io.SeekStart); err != nil {
		return meta, fmt.Errorf("rewinding file: %w", err)
	}

	if meta.Title == "" {
		meta.Title = titleFromName(file.Name)
	}
	return meta, nil
}

// titleFromName turns "01 - My_Song.mp3" into "01 - My Song".
func titleFromName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
}
