package store

import (
	"github.com/pablodelmoral/gritoncall/internal/dispatch"
	"github.com/pablodelmoral/gritoncall/internal/plans"
	"github.com/pablodelmoral/gritoncall/internal/reconcile"
	"github.com/pablodelmoral/gritoncall/internal/reporting"
	"github.com/pablodelmoral/gritoncall/internal/scheduling"
	"github.com/pablodelmoral/gritoncall/internal/streaks"
)

var (
	_ scheduling.Repository = (*Postgres)(nil)
	_ dispatch.Repository   = (*Postgres)(nil)
	_ reconcile.Repository  = (*Postgres)(nil)
	_ streaks.Repository    = (*Postgres)(nil)
	_ plans.Repository      = (*Postgres)(nil)
	_ reporting.Repository  = (*Postgres)(nil)

	_ scheduling.Repository = (*MemoryStore)(nil)
	_ dispatch.Repository   = (*MemoryStore)(nil)
	_ reconcile.Repository  = (*MemoryStore)(nil)
	_ streaks.Repository    = (*MemoryStore)(nil)
	_ plans.Repository      = (*MemoryStore)(nil)
	_ reporting.Repository  = (*MemoryStore)(nil)
)
