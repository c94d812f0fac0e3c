package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
	"github.com/devicehub-server/devicehub-server/internal/models"
)

// Config bounds the session's suspend points
type Config struct {
	ConnectTimeout      time.Duration
	CommandTimeout      time.Duration
	CommandReadyTimeout time.Duration
}

// WithDefaults fills unset timeouts
func (c Config) WithDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 10 * time.Second
	}
	if c.CommandReadyTimeout <= 0 {
		c.CommandReadyTimeout = 15 * time.Second
	}
	return c
}

// Session owns the single logical connection for one cloud account.
// All session state is mutated by one run loop goroutine; external
// calls post requests onto it and wait on their own reply channels, so
// concurrent calls interleave only at suspension points. The readiness
// tracker, correlator and bus are safe for direct use from callers.
type Session struct {
	accountID string
	client    devicesvc.Client
	cfg       Config

	bus        *Bus
	readiness  *ReadinessTracker
	correlator *Correlator

	reqs chan func()
	done chan struct{}

	// reqMu guards closed, the authoritative accept/reject decision
	// for new requests. closed is set only by the run loop, after done
	// is closed and before the final drain of reqs.
	reqMu  sync.Mutex
	closed bool

	// Run-loop owned state. Never touched outside run().
	state          models.SessionState
	cloudConnected bool
	lastErr        error
	challenge      *models.Challenge
	targets        map[string]*models.TargetConnection
	connectWaiters []chan error
	connectTimer   *time.Timer
	attempt        uint64
	closing        bool
}

// New creates a session for one account and starts its run loop
func New(accountID string, client devicesvc.Client, cfg Config) *Session {
	s := &Session{
		accountID: accountID,
		client:    client,
		cfg:       cfg.WithDefaults(),
		bus:       NewBus(),
		readiness: NewReadinessTracker(),
		reqs:      make(chan func(), 16),
		done:      make(chan struct{}),
		state:     models.SessionIdle,
		targets:   make(map[string]*models.TargetConnection),
	}
	s.correlator = NewCorrelator(client.SendCommand, s.cfg.CommandTimeout)

	go s.run()
	return s
}

// AccountID returns the account identity this session serves
func (s *Session) AccountID() string {
	return s.accountID
}

func (s *Session) run() {
	events := s.client.Events()
	for !s.closing {
		select {
		case fn := <-s.reqs:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)
		}
	}

	close(s.done)

	// Closing done unblocks any caller waiting to post a request.
	// Setting closed afterwards, under reqMu, waits out callers that
	// already passed the check in do: once the flag is set nothing new
	// can land in reqs, so draining here serves every request that
	// raced in ahead of the close. Those run against the Closed state
	// and reply accordingly instead of leaving their caller waiting.
	s.reqMu.Lock()
	s.closed = true
	s.reqMu.Unlock()
	for {
		select {
		case fn := <-s.reqs:
			fn()
		default:
			return
		}
	}
}

// do posts fn to the run loop. It fails with ErrCancelled once the
// session is closed.
func (s *Session) do(fn func()) error {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	if s.closed {
		return ErrCancelled
	}
	select {
	case s.reqs <- fn:
		return nil
	case <-s.done:
		return ErrCancelled
	}
}

// Connect drives the connection toward Connected. It is a no-op
// success when already connected and joins the in-flight attempt when
// one is running. A required second authentication step surfaces as a
// *ChallengeRequiredError carrying the challenge. Connect is not
// retried on failure; the caller decides.
func (s *Session) Connect(ctx context.Context) error {
	ch := make(chan error, 1)
	if err := s.do(func() { s.startConnect(ch) }); err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startConnect runs on the loop
func (s *Session) startConnect(ch chan error) {
	switch s.state {
	case models.SessionConnected:
		ch <- nil
	case models.SessionConnecting:
		s.connectWaiters = append(s.connectWaiters, ch)
	case models.SessionAwaitingChallenge:
		// The pending challenge is abandoned; authentication starts
		// over and no challenge id survives into the new attempt.
		log.Debug().Str("accountID", s.accountID).Msg("Discarding stale challenge, reconnecting")
		s.challenge = nil
		s.beginAttempt(ch, nil)
	case models.SessionClosed:
		ch <- ErrCancelled
	default:
		s.beginAttempt(ch, nil)
	}
}

// beginAttempt sends credentials (or a challenge response) and arms
// the connect timer. Runs on the loop.
func (s *Session) beginAttempt(ch chan error, resp *devicesvc.ChallengeResponse) {
	s.state = models.SessionConnecting
	s.lastErr = nil
	s.connectWaiters = append(s.connectWaiters, ch)
	s.attempt++

	if err := s.client.Connect(resp); err != nil {
		s.failConnect(&AuthError{Reason: err.Error()})
		return
	}

	s.armConnectTimer()
}

func (s *Session) armConnectTimer() {
	s.stopConnectTimer()
	gen := s.attempt
	s.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
		_ = s.do(func() { s.connectTimedOut(gen) })
	})
}

func (s *Session) stopConnectTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

// connectTimedOut runs on the loop
func (s *Session) connectTimedOut(gen uint64) {
	if gen != s.attempt || s.state != models.SessionConnecting {
		return
	}
	log.Warn().Str("accountID", s.accountID).Msg("Connect attempt timed out")
	s.failConnect(ErrConnectTimeout)
}

// failConnect moves the session back to Idle and rejects every connect
// waiter. Runs on the loop.
func (s *Session) failConnect(err error) {
	s.stopConnectTimer()
	s.state = models.SessionIdle
	s.lastErr = err
	s.challenge = nil
	s.resolveConnectWaiters(err)
}

func (s *Session) resolveConnectWaiters(err error) {
	for _, ch := range s.connectWaiters {
		ch <- err
	}
	s.connectWaiters = nil
}

// SubmitTwoFactorCode resolves a pending two-factor challenge and
// resumes the connect wait. Valid only while a two-factor challenge is
// pending; otherwise fails with ErrInvalidState without mutating
// anything.
func (s *Session) SubmitTwoFactorCode(ctx context.Context, code string) error {
	return s.submitChallenge(ctx, models.ChallengeTwoFactor, "", code)
}

// SubmitCaptchaSolution resolves a pending captcha challenge by id and
// resumes the connect wait.
func (s *Session) SubmitCaptchaSolution(ctx context.Context, challengeID, text string) error {
	return s.submitChallenge(ctx, models.ChallengeCaptcha, challengeID, text)
}

func (s *Session) submitChallenge(ctx context.Context, kind models.ChallengeKind, challengeID, solution string) error {
	ch := make(chan error, 1)
	err := s.do(func() {
		if s.state != models.SessionAwaitingChallenge || s.challenge == nil {
			ch <- fmt.Errorf("%w: no challenge pending", ErrInvalidState)
			return
		}
		if s.challenge.Kind != kind {
			ch <- fmt.Errorf("%w: pending challenge is %s", ErrInvalidState, s.challenge.Kind)
			return
		}
		if kind == models.ChallengeCaptcha && s.challenge.ID != challengeID {
			ch <- fmt.Errorf("%w: unknown challenge id", ErrInvalidState)
			return
		}

		resp := &devicesvc.ChallengeResponse{
			Kind:        kind,
			ChallengeID: s.challenge.ID,
			Solution:    solution,
		}
		s.challenge = nil
		s.beginAttempt(ch, resp)
	})
	if err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleEvent runs on the loop
func (s *Session) handleEvent(ev devicesvc.Event) {
	switch e := ev.(type) {
	case devicesvc.CloudConnected:
		s.onCloudConnected()
	case devicesvc.CloudDisconnected:
		s.onCloudDisconnected(e.Err)
	case devicesvc.ChallengeRequired:
		s.onChallengeRequired(e)
	case devicesvc.LinkStateChanged:
		s.upsertTarget(e.TargetID, e.Name, false)
		s.targets[e.TargetID].Link = e.State
		s.readiness.Observe(e.TargetID, e.State)
	case devicesvc.TargetDetected:
		s.upsertTarget(e.Info.TargetID, e.Info.Name, e.Info.Station)
	case devicesvc.DetectionChanged:
		s.upsertTarget(e.TargetID, e.Name, false)
		s.publishDetection(e)
	case devicesvc.PropertyChanged:
		s.upsertTarget(e.TargetID, e.Name, false)
		s.bus.Publish(models.NewPropertyChangedEvent(e.TargetID, s.targetName(e.TargetID, e.Name), e.Property, e.Value))
	case devicesvc.CommandOutcome:
		s.correlator.HandleResult(models.CommandResult{Success: e.Success, Code: e.Code})
	default:
		log.Debug().Str("accountID", s.accountID).Msgf("Ignoring raw event %T", ev)
	}
}

func (s *Session) onCloudConnected() {
	s.stopConnectTimer()
	s.state = models.SessionConnected
	s.cloudConnected = true
	s.lastErr = nil
	s.challenge = nil
	s.resolveConnectWaiters(nil)

	log.Info().Str("accountID", s.accountID).Msg("Cloud connected")
	go s.refreshTargets()
}

func (s *Session) onCloudDisconnected(err error) {
	if err == nil {
		err = fmt.Errorf("disconnected")
	}

	switch s.state {
	case models.SessionConnecting:
		log.Warn().Err(err).Str("accountID", s.accountID).Msg("Connect attempt failed")
		s.failConnect(&AuthError{Reason: err.Error()})
	case models.SessionConnected, models.SessionAwaitingChallenge:
		log.Warn().Err(err).Str("accountID", s.accountID).Msg("Cloud connection lost")
		s.stopConnectTimer()
		s.cloudConnected = false
		s.state = models.SessionIdle
		s.lastErr = err
		s.challenge = nil
	}
}

func (s *Session) onChallengeRequired(e devicesvc.ChallengeRequired) {
	if s.state != models.SessionConnecting {
		log.Debug().Str("accountID", s.accountID).Msg("Ignoring challenge outside connect attempt")
		return
	}

	s.stopConnectTimer()
	s.state = models.SessionAwaitingChallenge
	s.challenge = &models.Challenge{Kind: e.Kind, ID: e.ID, Image: e.Image}

	log.Info().
		Str("accountID", s.accountID).
		Str("kind", string(e.Kind)).
		Msg("Authentication challenge required")

	err := &ChallengeRequiredError{Challenge: *s.challenge}
	s.resolveConnectWaiters(err)
}

func (s *Session) upsertTarget(targetID, name string, station bool) {
	t, ok := s.targets[targetID]
	if !ok {
		t = &models.TargetConnection{TargetID: targetID, Link: models.LinkUnknown, Station: station}
		s.targets[targetID] = t
		s.readiness.Seed(targetID)
	}
	if name != "" {
		t.Name = name
	}
	if station {
		t.Station = true
	}
}

func (s *Session) targetName(targetID, fallback string) string {
	if t, ok := s.targets[targetID]; ok && t.Name != "" {
		return t.Name
	}
	return fallback
}

func (s *Session) publishDetection(e devicesvc.DetectionChanged) {
	name := s.targetName(e.TargetID, e.Name)
	switch e.Type {
	case models.EventPersonDetected:
		s.bus.Publish(models.NewPersonDetectedEvent(e.TargetID, name, e.Detected, e.Person))
	case models.EventMotion, models.EventRings, models.EventCryingDetected, models.EventSoundDetected:
		s.bus.Publish(models.NewDetectionEvent(e.Type, e.TargetID, name, e.Detected))
	default:
		log.Debug().Str("type", string(e.Type)).Msg("Dropping detection with unknown type")
	}
}

// refreshTargets seeds the target set from the cloud inventory after a
// successful connect. List results are posted back onto the loop.
func (s *Session) refreshTargets() {
	devices, err := s.client.ListDevices()
	if err != nil {
		log.Debug().Err(err).Str("accountID", s.accountID).Msg("Device listing failed")
	}
	stations, err := s.client.ListStations()
	if err != nil {
		log.Debug().Err(err).Str("accountID", s.accountID).Msg("Station listing failed")
	}

	infos := append(devices, stations...)
	if len(infos) == 0 {
		return
	}
	_ = s.do(func() {
		for _, info := range infos {
			s.upsertTarget(info.TargetID, info.Name, info.Station)
		}
	})
}

// Status reports a snapshot of the session
func (s *Session) Status() models.SessionStatus {
	ch := make(chan models.SessionStatus, 1)
	err := s.do(func() {
		st := models.SessionStatus{
			AccountID:      s.accountID,
			State:          s.state,
			Connected:      s.state == models.SessionConnected,
			CloudConnected: s.cloudConnected,
			LocalLinks:     s.readiness.Snapshot(),
		}
		if s.lastErr != nil {
			st.Error = s.lastErr.Error()
		}
		ch <- st
	})
	if err != nil {
		return models.SessionStatus{
			AccountID:  s.accountID,
			State:      models.SessionClosed,
			LocalLinks: map[string]models.LinkState{},
		}
	}
	return <-ch
}

// Targets lists every device and station the session has observed
func (s *Session) Targets() []models.TargetConnection {
	ch := make(chan []models.TargetConnection, 1)
	err := s.do(func() {
		out := make([]models.TargetConnection, 0, len(s.targets))
		for _, t := range s.targets {
			out = append(out, *t)
		}
		ch <- out
	})
	if err != nil {
		return nil
	}
	return <-ch
}

// Challenge returns the pending challenge, if any
func (s *Session) Challenge() (models.Challenge, bool) {
	type reply struct {
		c  models.Challenge
		ok bool
	}
	ch := make(chan reply, 1)
	err := s.do(func() {
		if s.challenge != nil {
			ch <- reply{c: *s.challenge, ok: true}
			return
		}
		ch <- reply{}
	})
	if err != nil {
		return models.Challenge{}, false
	}
	r := <-ch
	return r.c, r.ok
}

// AwaitReady blocks until the target's local link is ready or the
// timeout elapses.
func (s *Session) AwaitReady(targetID string, timeout time.Duration) error {
	return s.readiness.AwaitReady(targetID, timeout)
}

// SendCommand dispatches a command to a target and waits for its
// outcome. Commands on one session are serialized: a second call
// queues until the first resolves. A command to a target whose local
// link is still connecting waits for readiness first and fails with a
// readiness error if the link never comes up.
func (s *Session) SendCommand(ctx context.Context, targetID string, cmd models.Command) (models.CommandResult, error) {
	if err := cmd.Validate(); err != nil {
		return models.CommandResult{}, err
	}

	st := s.Status()
	switch st.State {
	case models.SessionClosed:
		return models.CommandResult{}, ErrCancelled
	case models.SessionConnected:
	default:
		return models.CommandResult{}, fmt.Errorf("%w: session is %s", ErrNotConnected, st.State)
	}

	link, known := s.readiness.State(targetID)
	if !known {
		return models.CommandResult{}, fmt.Errorf("%w: %s", ErrTargetNotFound, targetID)
	}
	if link == models.LinkConnecting {
		if err := s.readiness.AwaitReady(targetID, s.cfg.CommandReadyTimeout); err != nil {
			return models.CommandResult{Success: false, Error: err.Error()},
				fmt.Errorf("await target readiness: %w", err)
		}
	}

	return s.correlator.Do(ctx, targetID, cmd)
}

// GetProperty reads a named property from a target
func (s *Session) GetProperty(targetID, name string) (interface{}, error) {
	if st := s.Status(); st.State != models.SessionConnected {
		return nil, fmt.Errorf("%w: session is %s", ErrNotConnected, st.State)
	}
	return s.client.GetProperty(targetID, name)
}

// SetProperty writes a named property on a target
func (s *Session) SetProperty(targetID, name string, value interface{}) error {
	if st := s.Status(); st.State != models.SessionConnected {
		return fmt.Errorf("%w: session is %s", ErrNotConnected, st.State)
	}
	return s.client.SetProperty(targetID, name, value)
}

// Subscribe registers an event subscriber on the session's bus
func (s *Session) Subscribe(filter Filter) *Subscription {
	return s.bus.Subscribe(filter)
}

// UpdateFilter replaces a subscription's filter in place
func (s *Session) UpdateFilter(sub *Subscription, filter Filter) {
	s.bus.UpdateFilter(sub, filter)
}

// Unsubscribe removes a subscription. Idempotent.
func (s *Session) Unsubscribe(sub *Subscription) {
	s.bus.Unsubscribe(sub)
}

// Close tears the session down: every pending wait resolves with
// ErrCancelled, timers are cleared and the underlying client is
// disconnected. Closing twice is a no-op.
func (s *Session) Close() error {
	_ = s.do(func() {
		if s.state == models.SessionClosed {
			return
		}
		log.Info().Str("accountID", s.accountID).Msg("Closing session")

		s.stopConnectTimer()
		s.resolveConnectWaiters(ErrCancelled)
		s.challenge = nil
		s.state = models.SessionClosed
		s.cloudConnected = false
		s.closing = true

		s.correlator.Close()
		s.readiness.Close()
		s.bus.Close()

		if err := s.client.Disconnect(); err != nil {
			log.Warn().Err(err).Str("accountID", s.accountID).Msg("Client disconnect failed")
		}
	})
	<-s.done
	return nil
}

// Done is closed when the session's run loop has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}
