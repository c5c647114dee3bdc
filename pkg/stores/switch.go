package stores

import (
	"context"
	"errors"

	"github.com/voxdesk/voxdesk/pkg/telemetry"
)

// SwitchToExternal enables or disables the external store.
//
// Enabling requires a non-empty cfg. The new pool is opened, probed and
// provisioned before it receives traffic; any failure closes it and
// routes general traffic to the local store. A configuration error is
// always returned. Other failures return (false, err) in strict mode and
// (false, nil) in permissive mode. The preference is persisted only on
// success.
//
// Disabling closes the external pool, if any, and always succeeds.
func (s *Store) SwitchToExternal(ctx context.Context, enable bool, cfg *ConnectionConfig) (ok bool, err error) {
	direction := "disable"
	if enable {
		direction = "enable"
	}
	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, "switch", telemetry.AttrTarget.String(direction))
	defer func() {
		status := "success"
		if !ok {
			status = "failure"
		}
		s.tel.Metrics.RecordSwitch(direction, status)
		telemetry.EndSpan(span, err)
	}()

	if enable && (cfg == nil || cfg.IsZero()) {
		s.logger.Error("Cannot enable external database without configuration")
		return false, configurationError("switch", "cannot enable external database without configuration")
	}

	s.state.Lock()
	defer s.state.Unlock()

	if !enable {
		s.detachExternalLocked()
		s.persistLocked(ctx, false, nil)
		s.logger.Info("Successfully switched database to local")
		return true, nil
	}

	next := *cfg
	next.Driver = s.cfg.Local.Driver
	if err := next.Validate(); err != nil {
		return false, err
	}

	if ready, err := s.connectLocalLocked(ctx); !ready {
		if err == nil {
			err = &StoreError{Kind: KindConnection, Op: "switch", Target: TargetLocal, Err: ErrNotConnected}
		}
		return false, s.degrade(err)
	}

	if err := s.attachExternalLocked(ctx, next); err != nil {
		s.logger.WithError(err).Warn("Failed to connect to external database, using local database")
		_ = s.tel.Events.PublishFallback("switch", err.Error())
		return false, s.degrade(err)
	}

	s.persistLocked(ctx, true, &next)
	s.logger.Info("Successfully switched database to external")
	return true, nil
}

// degrade applies the strict/permissive fork to a failed switch.
func (s *Store) degrade(err error) error {
	if s.cfg.Strict || KindOf(err) == KindConfiguration {
		return err
	}
	return nil
}

// attachExternalLocked opens, probes and provisions an external pool and
// then makes it active. On failure nothing external stays attached and
// general traffic goes to the local store. Caller holds the writer lock.
func (s *Store) attachExternalLocked(ctx context.Context, cfg ConnectionConfig) error {
	cfg.Driver = s.cfg.Local.Driver
	if err := cfg.Validate(); err != nil {
		s.fallbackLocked()
		return err
	}

	s.state.beginConnecting()

	h, err := s.openWithRetry(ctx, TargetExternal, cfg)
	if err != nil {
		s.fallbackLocked()
		return err
	}
	_ = s.tel.Events.PublishConnected(string(TargetExternal), cfg.String())

	if err := s.provisioner.Provision(ctx, s.exec.strictCopy(), h, false); err != nil {
		_ = h.Close()
		s.fallbackLocked()
		return err
	}

	from := string(TargetLocal)
	if s.state.UsingExternal() {
		from = string(TargetExternal)
	}
	if old := s.state.activateExternal(h); old != nil {
		_ = old.Close()
	}
	s.tel.Metrics.SetActiveStore(string(TargetExternal))
	_ = s.tel.Events.PublishSwitched(from, string(TargetExternal))
	return nil
}

// fallbackLocked routes general traffic to the local store and closes any
// external pool. Caller holds the writer lock.
func (s *Store) fallbackLocked() {
	if ext := s.state.deactivateExternal(); ext != nil {
		_ = ext.Close()
	}
	s.tel.Metrics.SetActiveStore(string(TargetLocal))
}

// detachExternalLocked is fallbackLocked plus the switch notification.
func (s *Store) detachExternalLocked() {
	wasExternal := s.state.UsingExternal()
	s.fallbackLocked()
	if wasExternal {
		_ = s.tel.Events.PublishSwitched(string(TargetExternal), string(TargetLocal))
	}
}

// persistLocked saves the external-store preference. A disable keeps the
// last parameters so they can be re-enabled later. Failures are logged.
func (s *Store) persistLocked(ctx context.Context, enabled bool, cfg *ConnectionConfig) {
	if !s.cfg.PersistSettings {
		return
	}
	local := s.state.Local()
	if !local.Alive() {
		s.logger.Warn("Local database not connected, external database preference not saved")
		return
	}

	var settings ExternalSettings
	if cfg != nil {
		settings = settingsFor(enabled, *cfg)
	} else {
		prev, err := s.settings.Load(ctx, local)
		if err == nil && prev != nil {
			settings = *prev
		}
		settings.Enabled = enabled
	}

	if err := s.settings.Save(ctx, local, settings); err != nil {
		s.logger.WithError(err).Warn("Failed to save external database preference")
	}
}

// TestConnection opens a single-connection pool against cfg, probes it and
// closes it. It never touches the active state.
func (s *Store) TestConnection(ctx context.Context, cfg ConnectionConfig) (result TestResult) {
	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, "test_connection")
	defer func() {
		var err error
		if !result.Success {
			err = errors.New(result.Message)
		}
		telemetry.EndSpan(span, err)
	}()

	if cfg.Driver == "" {
		cfg.Driver = s.cfg.Local.Driver
	}
	if err := cfg.Validate(); err != nil {
		return TestResult{Success: false, Message: "Missing required configuration parameters"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.exec.Policy().AttemptTimeout)
	defer cancel()

	h, err := OpenHandle(ctx, TargetExternal, cfg, probeBounds(), s.dial, s.poolLogger)
	if err != nil {
		cause := err
		var se *StoreError
		if errors.As(err, &se) && se.Err != nil {
			cause = se.Err
		}
		return TestResult{Success: false, Message: "Connection failed: " + cause.Error()}
	}
	_ = h.Close()

	return TestResult{Success: true, Message: "Connection successful"}
}
