// Package feed applies updater feeds: YAML documents of entity rows and
// attribute facts gathered by a scraper, written through the resource
// registry exactly as an HTTP client would.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed is one document of an updater run.
type Feed struct {
	// Source names the scraper or site the data came from.
	Source string `yaml:"source"`

	// Effective is the instant facts hold from unless a fact sets its own.
	// Zero means the time the feed is applied.
	Effective time.Time `yaml:"effective,omitempty"`

	// Rows are entity rows, applied before facts.
	Rows []Row `yaml:"rows,omitempty"`

	// Facts are attribute values maintained with compare-close-insert.
	Facts []Fact `yaml:"facts,omitempty"`
}

// Row is one entity row.
type Row struct {
	Resource string         `yaml:"resource"`
	Data     map[string]any `yaml:"data"`

	// Key lists the data columns identifying an existing row. With a key the
	// row is created only when no row matches and updated when one does;
	// without one it is always created.
	Key []string `yaml:"key,omitempty"`
}

// Fact is one attribute value. A null or missing value retires the fact.
type Fact struct {
	Resource string         `yaml:"resource"`
	Key      map[string]any `yaml:"key"`
	Name     string         `yaml:"name"`
	Lang     string         `yaml:"lang,omitempty"`
	Value    any            `yaml:"value"`
	Since    time.Time      `yaml:"since,omitempty"`
}

// Load reads every document of a feed file.
func Load(path string) ([]*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed file: %w", err)
	}
	feeds, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return feeds, nil
}

// Decode parses a stream of YAML feed documents. Unknown fields are rejected.
func Decode(r io.Reader) ([]*Feed, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var feeds []*Feed
	for i := 1; ; i++ {
		var f Feed
		err := decoder.Decode(&f)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: failed to parse YAML: %w", i, err)
		}
		if err := validate(&f); err != nil {
			return nil, fmt.Errorf("document %d: invalid feed: %w", i, err)
		}
		feeds = append(feeds, &f)
	}
	if len(feeds) == 0 {
		return nil, errors.New("no feed documents")
	}
	return feeds, nil
}

func validate(f *Feed) error {
	if len(f.Rows) == 0 && len(f.Facts) == 0 {
		return errors.New("feed has no rows and no facts")
	}
	for i, r := range f.Rows {
		if r.Resource == "" {
			return fmt.Errorf("rows[%d]: resource is required", i)
		}
		if len(r.Data) == 0 {
			return fmt.Errorf("rows[%d]: data is required", i)
		}
		for _, k := range r.Key {
			if _, ok := r.Data[k]; !ok {
				return fmt.Errorf("rows[%d]: key column %s missing from data", i, k)
			}
		}
	}
	for i, fact := range f.Facts {
		if fact.Resource == "" {
			return fmt.Errorf("facts[%d]: resource is required", i)
		}
		if fact.Name == "" {
			return fmt.Errorf("facts[%d]: name is required", i)
		}
		if len(fact.Key) == 0 {
			return fmt.Errorf("facts[%d]: key is required", i)
		}
	}
	return nil
}
