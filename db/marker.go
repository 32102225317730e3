package db

import "database/sql"

// Marker is the opaque freshness value read from the upstream store.
// It is compared by its raw string form only; NULL is a distinct value.
type Marker struct {
	Value string
	Valid bool
}

// NewMarker returns a non-null marker
func NewMarker(value string) Marker {
	return Marker{Value: value, Valid: true}
}

// Null returns the marker observed when the freshness column has no rows or only NULLs
func Null() Marker {
	return Marker{}
}

func markerFromNullString(ns sql.NullString) Marker {
	if !ns.Valid {
		return Null()
	}
	return NewMarker(ns.String)
}

// Equal reports whether two markers have the same external representation
func (m Marker) Equal(other Marker) bool {
	if m.Valid != other.Valid {
		return false
	}
	return !m.Valid || m.Value == other.Value
}

func (m Marker) String() string {
	if !m.Valid {
		return "<null>"
	}
	return m.Value
}

// MarshalJSON renders NULL markers as JSON null for the admin API
func (m Marker) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return jsonString(m.Value), nil
}
