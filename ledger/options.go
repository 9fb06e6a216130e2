package ledger

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/ledger-engine/id"
)

// Option configures a Journal, Chart, Aggregator or Closer.
type Option func(*settings)

type settings struct {
	log          zerolog.Logger
	fiscal       FiscalCalendar
	now          func() time.Time
	newEntryID   func() EntryID
	newAccountID func() AccountID
}

func newSettings(opts []Option) settings {
	s := settings{
		log:          zerolog.Nop(),
		fiscal:       CalendarYear,
		now:          func() time.Time { return time.Now().UTC() },
		newEntryID:   func() EntryID { return EntryID(id.NewEntryID()) },
		newAccountID: func() AccountID { return AccountID(id.NewAccountID()) },
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

// WithLogger sets the structured logger. The default discards output.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithFiscalCalendar sets the fiscal year boundaries. Default is January.
func WithFiscalCalendar(fc FiscalCalendar) Option {
	return func(s *settings) { s.fiscal = fc }
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}
