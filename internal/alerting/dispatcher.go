package alerting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"disputable-values-monitor/internal/metrics"
)

// Sink is one delivery destination.
type Sink struct {
	Name     string
	Notifier Notifier
	// Required sinks are logged at error level when they fail.
	Required bool
}

// Outcome is the result of delivering one message to one sink.
type Outcome struct {
	Sink string
	Err  error
}

// Dispatcher fans a message out to every sink.
type Dispatcher struct {
	sinks   []Sink
	enabled map[Kind]struct{}
	prefix  string
	now     func() time.Time
	logger  zerolog.Logger
}

// NewDispatcher builds a dispatcher. Messages of kinds outside enabled are
// dropped, except KindNewReport and KindOracleAddress. The monitor name, when
// set, becomes the message header.
func NewDispatcher(sinks []Sink, enabled []Kind, monitorName string, logger zerolog.Logger) *Dispatcher {
	set := make(map[Kind]struct{}, len(enabled))
	for _, k := range enabled {
		set[k] = struct{}{}
	}
	prefix := ""
	if monitorName != "" {
		prefix = fmt.Sprintf("❗%s Found Something❗\n", monitorName)
	}
	return &Dispatcher{
		sinks:   sinks,
		enabled: set,
		prefix:  prefix,
		now:     time.Now,
		logger:  logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// Enabled reports whether messages of kind k are delivered.
func (d *Dispatcher) Enabled(k Kind) bool {
	if k == KindNewReport || k == KindOracleAddress {
		return true
	}
	_, ok := d.enabled[k]
	return ok
}

// Dispatch delivers msg to every sink and returns one outcome per sink. A
// failing sink never stops delivery to the others. Disabled kinds return nil.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) []Outcome {
	if !d.Enabled(msg.Kind) {
		d.logger.Debug().Str("kind", string(msg.Kind)).Msg("alert kind disabled")
		return nil
	}
	if msg.Time.IsZero() {
		msg.Time = d.now().UTC()
	}
	msg.Text = d.prefix + msg.Text

	outcomes := make([]Outcome, 0, len(d.sinks))
	for _, sink := range d.sinks {
		err := sink.Notifier.Notify(ctx, msg)
		metrics.RecordAlert(sink.Name, string(msg.Kind), err)
		outcomes = append(outcomes, Outcome{Sink: sink.Name, Err: err})
		if err == nil {
			continue
		}
		event := d.logger.Warn()
		if sink.Required {
			event = d.logger.Error()
		}
		event.Err(err).Str("sink", sink.Name).Str("kind", string(msg.Kind)).Msg("alert delivery failed")
	}
	return outcomes
}

// HasSinks reports whether any sink is configured.
func (d *Dispatcher) HasSinks() bool { return len(d.sinks) > 0 }

// Failed joins the errors of failed outcomes.
func Failed(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Sink, o.Err))
		}
	}
	return errors.Join(errs...)
}
