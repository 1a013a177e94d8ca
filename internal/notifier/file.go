package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qcekey/iget/internal/model"
)

var _ model.Notifier = (*FileNotifier)(nil)

// FileNotifier appends accepted vacancies to a JSON Lines file.
type FileNotifier struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileNotifier(path string) *FileNotifier {
	return &FileNotifier{path: path, now: time.Now}
}

type fileRecord struct {
	EmittedAt   time.Time          `json:"emitted_at"`
	ID          string             `json:"id"`
	Source      model.Source       `json:"source"`
	Title       string             `json:"title"`
	Company     string             `json:"company,omitempty"`
	Location    string             `json:"location,omitempty"`
	URL         string             `json:"url"`
	PostedAt    time.Time          `json:"posted_at"`
	Fingerprint string             `json:"fingerprint"`
	Description string             `json:"description,omitempty"`
	Annotations []model.Annotation `json:"annotations,omitempty"`
}

// Notify writes one line per vacancy.
func (n *FileNotifier) Notify(_ context.Context, batch []model.Screened) error {
	if len(batch) == 0 {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if dir := filepath.Dir(n.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(n.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", n.path, err)
	}

	emittedAt := n.now().UTC()
	enc := json.NewEncoder(f)
	for _, item := range batch {
		v := item.Vacancy
		rec := fileRecord{
			EmittedAt:   emittedAt,
			ID:          v.ID,
			Source:      v.Source,
			Title:       v.Title,
			Company:     v.Company,
			Location:    v.Location,
			URL:         v.URL,
			PostedAt:    v.PostedAt,
			Fingerprint: v.Fingerprint,
			Description: v.Description,
			Annotations: item.Annotations,
		}
		if err := enc.Encode(rec); err != nil {
			f.Close()
			return fmt.Errorf("write vacancy %s: %w", v.ID, err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", n.path, err)
	}
	return nil
}
