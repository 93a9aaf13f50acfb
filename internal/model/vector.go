package model

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Vector is an embedding column. It is written in the pgvector text form "[1,2,3]", which
// postgres reads as the vector type and other dialects keep as plain text.
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	if len(v) == 0 {
		return "[]", nil
	}
	return pgvector.NewVector(v).Value()
}

func (v *Vector) Scan(src any) error {
	var s string
	switch x := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return fmt.Errorf("scan vector: unsupported type %T", src)
	}

	if strings.TrimSpace(s) == "[]" {
		*v = Vector{}
		return nil
	}
	var pv pgvector.Vector
	if err := pv.Scan(s); err != nil {
		return fmt.Errorf("scan vector failed: %w", err)
	}
	*v = pv.Slice()
	return nil
}

func (Vector) GormDataType() string { return "vector" }

// GormDBDataType picks the column type per dialect.
func (Vector) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "vector"
	case "mysql":
		return "longtext"
	default:
		return "text"
	}
}
