package androidtv

import (
	"context"
	"sync"
	"time"
)

const defaultPollInterval = 10 * time.Second

// probe pairs one diagnostic shell command with the parser that
// extracts its value into a snapshot.
type probe struct {
	name    string
	command string
	apply   func(output string, st *PolledState) bool
}

// probes is the fixed set of diagnostics executed each poll cycle, in
// order. Cheap liveness checks first, the expensive activity dump last.
var probes = []probe{
	{
		name:    "power",
		command: cmdPowerState,
		apply: func(out string, st *PolledState) bool {
			v, ok := ParsePowerState(out)
			if ok {
				st.Power = &v
			}
			return ok
		},
	},
	{
		name:    "audio",
		command: cmdAudioState,
		apply: func(out string, st *PolledState) bool {
			v, ok := ParseAudioPlaying(out)
			if ok {
				st.AudioPlaying = &v
			}
			return ok
		},
	},
	{
		name:    "android_version",
		command: cmdAndroidVer,
		apply: func(out string, st *PolledState) bool {
			v, ok := ParseAndroidVersion(out)
			if ok {
				st.AndroidVersion = &v
			}
			return ok
		},
	},
	{
		name:    "api_level",
		command: cmdAPILevel,
		apply: func(out string, st *PolledState) bool {
			v, ok := ParseAPILevel(out)
			if ok {
				st.APILevel = &v
			}
			return ok
		},
	},
	{
		name:    "foreground_app",
		command: cmdForegroundApp,
		apply: func(out string, st *PolledState) bool {
			v, ok := ParseForegroundApp(out)
			if ok {
				st.ForegroundApp = &v
			}
			return ok
		},
	},
}

// PollerConfig holds configuration for a device poller.
type PollerConfig struct {
	// Session is the device session the poller drives. Required.
	Session *Session

	// Interval between poll cycles. Defaults to 10s.
	Interval time.Duration

	// OnChange is invoked after a poll cycle whose observed fields
	// differ from the previous cycle. The map holds only the changed
	// fields. Optional.
	OnChange func(deviceID string, changed map[string]string)

	// Logger is an optional structured logger.
	Logger Logger
}

// Poller drives one device's poll loop: it keeps the session connected
// (honoring the reconnect schedule), runs the diagnostic probes each
// interval, and reports field-level changes.
//
// Cycles never overlap. A tick that fires while the previous cycle is
// still running is dropped, not queued; on a slow or unreachable device
// the poll rate degrades instead of building a backlog.
type Poller struct {
	session  *Session
	interval time.Duration
	onChange func(deviceID string, changed map[string]string)
	logger   Logger

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewPoller creates a poller for a session. Call Start to begin
// polling.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &Poller{
		session:  cfg.Session,
		interval: cfg.Interval,
		onChange: cfg.OnChange,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Stop halts the poll loop and waits for the in-flight cycle, if any,
// to finish. Idempotent. Stop does not close the session.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
			<-p.done
		}
	})
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
			// Drop the tick that accumulated if the cycle overran the
			// interval; the next one fires on schedule.
			select {
			case <-ticker.C:
				p.logger.Debug("poll tick skipped, previous cycle still running",
					"device_id", p.session.DeviceID(),
				)
			default:
			}
		}
	}
}

// poll runs one cycle: reconnect if due, then execute the probes and
// report changes.
func (p *Poller) poll(ctx context.Context) {
	if err := p.session.Connect(ctx); err != nil {
		// Session closed; the loop will be stopped by the owner.
		return
	}
	if p.session.State() != StateConnected {
		return
	}

	prev := p.session.LastKnown()

	// Start from the previous snapshot so a probe whose output cannot
	// be parsed this cycle keeps its last good value. On the first
	// cycle there is nothing to carry over and unparsed fields stay
	// unknown.
	next := prev.clone()
	next.ObservedAt = time.Now()

	for _, pr := range probes {
		output, err := p.session.ExecuteShell(ctx, pr.command)
		if err != nil {
			// The session tracks consecutive failures and tears the
			// connection down once they cross the threshold; the cycle
			// just stops early.
			p.logger.Debug("probe failed",
				"device_id", p.session.DeviceID(),
				"probe", pr.name,
				"error", err,
			)
			break
		}
		if !pr.apply(output, next) {
			p.logger.Debug("probe output not recognized",
				"device_id", p.session.DeviceID(),
				"probe", pr.name,
			)
		}
	}

	p.session.StoreLastKnown(next)

	if changed := next.diff(prev); len(changed) > 0 && p.onChange != nil {
		p.onChange(p.session.DeviceID(), changed)
	}
}
