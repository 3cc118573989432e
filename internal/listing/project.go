// Package listing holds a user's fetched records and derives the visible,
// filtered and sorted view of them.
package listing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"examtrack/pkg/domain"
)

// Filter selects a subset of records.
type Filter string

const (
	FilterAll           Filter = "all"
	FilterScheduled     Filter = "scheduled"
	FilterCompleted     Filter = "completed"
	FilterResultPending Filter = "result_pending"
)

// Sort orders the visible records.
type Sort string

const (
	SortNameAsc  Sort = "name_asc"
	SortNameDesc Sort = "name_desc"
	SortDateAsc  Sort = "date_asc"
	SortDateDesc Sort = "date_desc"
)

// ParseFilter maps a query value to a Filter. Blank means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterScheduled, FilterCompleted, FilterResultPending:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// ParseSort maps a query value to a Sort. Blank means SortDateDesc.
func ParseSort(s string) (Sort, error) {
	switch o := Sort(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return SortDateDesc, nil
	case SortNameAsc, SortNameDesc, SortDateAsc, SortDateDesc:
		return o, nil
	default:
		return "", fmt.Errorf("unknown sort %q", s)
	}
}

// Match reports whether r belongs to filter at time now.
func (f Filter) Match(r domain.Record, now time.Time) bool {
	switch f {
	case FilterScheduled:
		return r.IsScheduled(now)
	case FilterCompleted:
		return r.IsCompleted(now)
	case FilterResultPending:
		return !r.HasResult()
	default:
		return true
	}
}

// Project returns the records matching filter, ordered by order. The input
// slice is never modified.
func Project(records []domain.Record, filter Filter, order Sort, now time.Time) []domain.Record {
	out := make([]domain.Record, 0, len(records))
	for _, r := range records {
		if filter.Match(r, now) {
			out = append(out, r)
		}
	}
	sortRecords(out, order)
	return out
}

func sortRecords(records []domain.Record, order Sort) {
	switch order {
	case SortNameAsc, SortNameDesc:
		// Collators keep internal buffers, so each sort gets its own.
		col := collate.New(language.Und, collate.IgnoreCase)
		desc := order == SortNameDesc
		sort.SliceStable(records, func(i, j int) bool {
			c := col.CompareString(records[i].Name, records[j].Name)
			if c == 0 {
				return records[i].ID < records[j].ID
			}
			if desc {
				return c > 0
			}
			return c < 0
		})
	case SortDateAsc:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].RegisteredDate.Before(records[j].RegisteredDate)
		})
	default:
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].RegisteredDate.After(records[j].RegisteredDate)
		})
	}
}
