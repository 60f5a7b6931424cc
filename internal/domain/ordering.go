package domain

import "fmt"

// SortField is one of the two columns the remote can order by
type SortField string

const (
	SortByName         SortField = "name"
	SortByDateModified SortField = "dateModified"
)

// SortDirection is asc or desc
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// Ordering is the restricted order-by value accepted by the media API.
type Ordering struct {
	Field     SortField
	Direction SortDirection
}

// DefaultOrdering is used by full-library enumerations.
var DefaultOrdering = Ordering{Field: SortByDateModified, Direction: SortAsc}

// String renders the ordering as the API expects it, e.g. "name desc".
func (o Ordering) String() string {
	field := o.Field
	if field == "" {
		field = SortByDateModified
	}
	dir := o.Direction
	if dir == "" {
		dir = SortAsc
	}
	return fmt.Sprintf("%s %s", field, dir)
}

// GetOrdering folds a host sort column into the remote ordering. Only
// "file" sorts by name; every other column sorts by modification date.
func GetOrdering(sort string, reverse bool) Ordering {
	o := Ordering{Field: SortByDateModified, Direction: SortAsc}
	if sort == "file" {
		o.Field = SortByName
	}
	if reverse {
		o.Direction = SortDesc
	}
	return o
}
