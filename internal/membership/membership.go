// Package membership supplies the clan ids of the session user. The sync core
// treats the result as read-only input.
package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// UpdateFunc receives the full current clan id set, sorted.
type UpdateFunc func(ids []string)

// Source reports clan membership. Watch calls update with the initial set and
// again whenever it changes, and returns when ctx ends or the source has
// nothing more to report.
type Source interface {
	Watch(ctx context.Context, update UpdateFunc) error
}

// Static is a fixed membership set, typically from configuration.
type Static []string

// Watch reports the set once.
func (s Static) Watch(_ context.Context, update UpdateFunc) error {
	update(normalize(s))
	return nil
}

// clanID accepts both string and numeric ids.
type clanID string

func (c *clanID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = clanID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("clan id must be a string or number: %s", data)
	}
	*c = clanID(n.String())
	return nil
}

type clan struct {
	ID clanID `json:"id"`
}

func normalize(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

var (
	_ Source = Static(nil)
	_ Source = (*Poller)(nil)
)
