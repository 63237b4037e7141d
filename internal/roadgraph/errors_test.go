package roadgraph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyErr(t *testing.T) {
	ctx := context.Background()

	if classifyErr(ctx, "op", 0, nil) != nil {
		t.Error("nil error should classify to nil")
	}

	err := classifyErr(ctx, "op", 0, fmt.Errorf("bad sql"))
	var qe *QueryError
	if !errors.As(err, &qe) || qe.Op != "op" {
		t.Errorf("plain error should classify to QueryError, got %v", err)
	}

	err = classifyErr(ctx, "op", time.Minute, context.DeadlineExceeded)
	var qt *QueryTimeoutError
	if !errors.As(err, &qt) {
		t.Errorf("deadline error should classify to QueryTimeoutError, got %v", err)
	}
	if qt.Timeout != time.Minute {
		t.Errorf("timeout budget = %v, want 1m", qt.Timeout)
	}

	if err := classifyErr(ctx, "op", 0, context.Canceled); !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation should pass through, got %v", err)
	}

	// A driver error reported while the context deadline has expired still
	// counts as a timeout.
	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	err = classifyErr(expired, "op", 0, fmt.Errorf("driver: conn closed"))
	if !errors.As(err, &qt) {
		t.Errorf("error under expired deadline should classify to QueryTimeoutError, got %v", err)
	}
}

func TestTableNamesValidate(t *testing.T) {
	good := DefaultTableNames()
	if err := good.validate(); err != nil {
		t.Errorf("default table names should validate: %v", err)
	}

	bad := good
	bad.Lanes = "lanes; DROP TABLE x"
	if err := bad.validate(); err == nil {
		t.Error("expected validation failure for injected table name")
	}

	bad = good
	bad.Roads = ""
	if err := bad.validate(); err == nil {
		t.Error("expected validation failure for empty table name")
	}
}

func TestNewSQLStoreRejectsBadTables(t *testing.T) {
	tables := DefaultTableNames()
	tables.LaneAdjacency = "1bad.name"
	if _, err := NewSQLStore(nil, tables); err == nil {
		t.Error("expected error for invalid identifier")
	}
}
