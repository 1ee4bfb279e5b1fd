package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/embedgate/embedgate/internal/apperr"
)

// Reflect validates loc before the backend sees it, then lists its columns.
func Reflect(ctx context.Context, conn Conn, loc TableLocator) ([]Column, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	columns, err := conn.Columns(ctx, loc)
	if err != nil {
		if apperr.KindOf(err) == apperr.Internal {
			return nil, apperr.Wrap(apperr.ReflectionFailed, "column metadata lookup failed", err)
		}
		return nil, err
	}
	if columns == nil {
		columns = []Column{}
	}
	return columns, nil
}

// ProjectFirstRow reads one row and keeps the first min(limit, len(columns)) columns.
func ProjectFirstRow(ctx context.Context, conn Conn, loc TableLocator, columns []Column, limit int) (Projection, error) {
	if err := loc.Validate(); err != nil {
		return Projection{}, err
	}
	if limit < 0 {
		limit = 0
	}
	selected := columns
	if len(selected) > limit {
		selected = selected[:limit]
	}

	values, err := conn.FirstRow(ctx, loc, selected)
	if err != nil {
		if errors.Is(err, ErrNoRows) {
			return Projection{}, ErrNoRows
		}
		if apperr.KindOf(err) == apperr.Internal {
			return Projection{}, apperr.Wrap(apperr.RowReadFailed, "row read failed", err)
		}
		return Projection{}, err
	}
	if len(values) != len(selected) {
		return Projection{}, apperr.Wrap(apperr.RowReadFailed, "row read failed",
			fmt.Errorf("backend returned %d values for %d columns", len(values), len(selected)))
	}

	names := make([]string, 0, len(selected))
	for _, column := range selected {
		names = append(names, column.Name)
	}
	projection, err := NewProjection(names, values)
	if err != nil {
		return Projection{}, apperr.Wrap(apperr.RowReadFailed, "row read failed", err)
	}
	return projection, nil
}
