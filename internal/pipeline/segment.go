package pipeline

import "spend-dashboard/internal/models"

// Segments are the status-filtered working sets most views start from.
type Segments struct {
	All       []models.Record
	Completed []models.Record
	Pending   []models.Record
	// Processed is completed ∪ pending in source order.
	Processed []models.Record
}

// Filter returns the records whose status is one of statuses, keeping their
// relative order.
func Filter(records []models.Record, statuses ...models.Status) []models.Record {
	want := make(map[models.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	out := make([]models.Record, 0)
	for _, r := range records {
		if want[r.Status] {
			out = append(out, r)
		}
	}
	return out
}

// FilterFunc returns the records matching keep, keeping their relative order.
func FilterFunc(records []models.Record, keep func(models.Record) bool) []models.Record {
	out := make([]models.Record, 0)
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func Segment(records []models.Record) Segments {
	return Segments{
		All:       records,
		Completed: Filter(records, models.StatusCompleted),
		Pending:   Filter(records, models.StatusPending),
		Processed: Filter(records, models.StatusCompleted, models.StatusPending),
	}
}
