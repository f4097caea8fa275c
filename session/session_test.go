package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Southclaws/fault/ftag"
	"github.com/srg/wayble/internal/device"
	"github.com/srg/wayble/internal/eventbus"
	"github.com/srg/wayble/internal/route"
	"github.com/srg/wayble/internal/testutils"
	"github.com/srg/wayble/pkg/connection"
	"github.com/srg/wayble/pkg/transport"
	"github.com/srg/wayble/scanner"
	"github.com/srg/wayble/session"
	suitelib "github.com/stretchr/testify/suite"
)

const (
	addrESP   = "AA:BB:CC:DD:EE:FF"
	addrHeart = "11:22:33:44:55:66"
	addrNav   = "99:88:77:66:55:44"
)

var (
	routeA = []route.GeoPoint{{Lat: 37.78825, Lon: -122.4324}, {Lat: 37.789, Lon: -122.4325}}
	routeB = []route.GeoPoint{{Lat: 37.78825, Lon: -122.4324}, {Lat: 37.789, Lon: -122.4326}}
)

type EngineTestSuite struct {
	testutils.FakeRadioSuite
	bus *eventbus.Bus
}

func (suite *EngineTestSuite) SetupTest() {
	suite.WithRadio().WithWaypointPeripheral(addrESP, "ESP32 Nav")
	suite.FakeRadioSuite.SetupTest()

	suite.bus = eventbus.New(64)
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.bus.Close()
	suite.FakeRadioSuite.TearDownTest()
}

func fastOptions() *session.Options {
	opts := session.DefaultOptions()
	opts.Scan.Window = 150 * time.Millisecond
	opts.Connection.RetryDelay = time.Millisecond
	opts.Connection.SettleDelay = time.Millisecond
	opts.Transport.ChunkDelay = 0
	opts.ResetSettle = []time.Duration{time.Millisecond, time.Millisecond}
	return opts
}

func (suite *EngineTestSuite) newEngine(radio device.Radio) *session.Engine {
	return session.NewEngine(radio, fastOptions(), suite.bus, suite.Logger)
}

func (suite *EngineTestSuite) expectedFrames(points []route.GeoPoint) [][]byte {
	r, err := route.BuildForSend(points)
	suite.Require().NoError(err)
	return route.Frames(route.EncodePayload(route.Serialize(r)), route.DefaultChunkSize)
}

func (suite *EngineTestSuite) nextOutcome(sub *eventbus.Subscription) eventbus.Outcome {
	select {
	case v := <-sub.C:
		o, ok := v.(eventbus.Outcome)
		suite.Require().True(ok, "outcome topic MUST carry eventbus.Outcome")
		return o
	case <-time.After(suite.TestTimeout):
		suite.FailNow("no outcome published")
		return eventbus.Outcome{}
	}
}

func (suite *EngineTestSuite) assertNoOutcome(sub *eventbus.Subscription) {
	select {
	case v := <-sub.C:
		suite.Failf("unexpected outcome", "%+v", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func (suite *EngineTestSuite) TestDefaultOptions() {
	opts := session.DefaultOptions()

	suite.Equal([]time.Duration{time.Second, 500 * time.Millisecond}, opts.ResetSettle)
	suite.Equal(8*time.Second, opts.Scan.Window)
	suite.Equal(3, opts.Connection.MaxAttempts)
	suite.Equal(20, opts.Transport.ChunkSize)
	suite.Equal(50*time.Millisecond, opts.Transport.ChunkDelay)
}

func (suite *EngineTestSuite) TestSendRoute_ScanPath() {
	// GOAL: Verify a first send resets the stack, scans, connects and delivers the double-encoded frames
	//
	// TEST SCENARIO: empty cache → reset + scan → ESP32 matched → frames written in order → cache updated

	engine := suite.newEngine(suite.Radio)

	var stages []session.Stage
	res, err := engine.SendRoute(context.Background(), routeA, func(s session.Stage) { stages = append(stages, s) })
	suite.Require().NoError(err)

	suite.Equal("WP1:37.78825,-122.4324;WP2:37.789,-122.4325", res.Wire)
	suite.Equal(addrESP, res.Device.ID)
	suite.True(res.Matched)
	suite.False(res.FastPath)
	suite.False(res.Demoted)
	suite.NotEmpty(res.OpID)
	suite.Equal(device.NormalizeUUID(testutils.WaypointCharacteristicUUID), res.Characteristic.Characteristic)

	suite.Equal(suite.expectedFrames(routeA), suite.Radio.WrittenFrames(), "frames MUST be written in order, one write per chunk")
	suite.Equal(len(suite.Radio.WrittenFrames()), res.Frames)

	suite.Equal([]session.Stage{
		session.StagePreparing,
		session.StageScanning,
		session.StageConnecting,
		session.StageDiscovering,
		session.StageTransmitting,
		session.StageTerminated,
	}, stages)

	suite.Equal(1, suite.Radio.ResetCount(), "scan path MUST reset the stack first")
	suite.Equal(1, suite.Radio.ScanCount())
	suite.Zero(suite.Radio.LiveConnections(), "handle MUST be released after success")
	suite.False(engine.Busy(), "guard MUST be cleared")

	suite.Equal(res.Wire, engine.Cache().LastSentPayload())
	cached, ok := engine.Cache().LastKnownDevice()
	suite.True(ok)
	suite.Equal(addrESP, cached.ID)
}

func (suite *EngineTestSuite) TestSendRoute_CacheReuse() {
	// GOAL: Verify an unchanged route goes straight to the cached device without scanning
	//
	// TEST SCENARIO: send A → send A again → no second scan, no second reset, fast path taken

	engine := suite.newEngine(suite.Radio)

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	var stages []session.Stage
	res, err := engine.SendRoute(context.Background(), routeA, func(s session.Stage) { stages = append(stages, s) })
	suite.Require().NoError(err)

	suite.True(res.FastPath)
	suite.Equal(addrESP, res.Device.ID)
	suite.Equal(1, suite.Radio.ScanCount(), "fast path MUST NOT start discovery")
	suite.Equal(1, suite.Radio.ResetCount(), "fast path MUST NOT recreate the stack")
	suite.Equal([]string{addrESP, addrESP}, suite.Radio.Connects())
	suite.Equal([]session.Stage{
		session.StagePreparing,
		session.StageFastPath,
		session.StageConnecting,
		session.StageDiscovering,
		session.StageTransmitting,
		session.StageTerminated,
	}, stages)

	stats := engine.Stats()
	suite.Equal(int64(2), stats.SendsAttempted)
	suite.Equal(int64(2), stats.SendsSucceeded)
	suite.Equal(int64(1), stats.FastPathHits)
	suite.Equal(int64(1), stats.Scans)
}

func (suite *EngineTestSuite) TestSendRoute_CacheInvalidation() {
	// GOAL: Verify a changed coordinate forces a fresh scan and drops the cached device first
	//
	// TEST SCENARIO: send A → send B (one longitude differs) → device cleared before SCANNING → scan runs

	engine := suite.newEngine(suite.Radio)

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	cachedDuringScan := true
	res, err := engine.SendRoute(context.Background(), routeB, func(s session.Stage) {
		if s == session.StageScanning {
			_, cachedDuringScan = engine.Cache().LastKnownDevice()
		}
	})
	suite.Require().NoError(err)

	suite.False(cachedDuringScan, "cached device MUST be cleared before scanning")
	suite.False(res.FastPath)
	suite.Equal(2, suite.Radio.ScanCount())
	suite.Equal(2, suite.Radio.ResetCount())
	suite.Equal(res.Wire, engine.Cache().LastSentPayload())
}

func (suite *EngineTestSuite) TestSendRoute_GuardExclusivity() {
	// GOAL: Verify requests issued while an operation is in flight are rejected without side effects
	//
	// TEST SCENARIO: send parked at connect → send, scan, reset rejected → release → first send completes

	gate := testutils.NewGate()
	radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
		WithWaypointPeripheral(addrESP, "ESP32 Nav").
		WithConnectGate(gate))
	engine := suite.newEngine(radio)

	type outcome struct {
		res session.SendResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := engine.SendRoute(context.Background(), routeA, nil)
		done <- outcome{res, err}
	}()

	select {
	case <-gate.Entered:
	case <-time.After(suite.TestTimeout):
		suite.FailNow("first send never reached connect")
	}
	suite.True(engine.Busy())

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.ErrorIs(err, session.ErrOperationInProgress)
	suite.Equal(session.KindBusy, session.KindOf(err))

	_, err = engine.ScanDebug(context.Background(), nil)
	suite.ErrorIs(err, session.ErrOperationInProgress)

	err = engine.ResetRadioStack(context.Background())
	suite.ErrorIs(err, session.ErrOperationInProgress)

	suite.Equal(1, radio.ResetCount(), "rejected requests MUST NOT reset the stack")
	suite.Equal(1, radio.ScanCount(), "rejected requests MUST NOT scan")
	suite.Len(radio.Connects(), 1)
	suite.True(engine.Busy(), "rejections MUST NOT clear the in-flight guard")

	gate.Release()

	select {
	case got := <-done:
		suite.Require().NoError(got.err)
		suite.Equal(addrESP, got.res.Device.ID)
	case <-time.After(suite.TestTimeout):
		suite.FailNow("first send never completed")
	}

	suite.False(engine.Busy())
	suite.Equal(int64(3), engine.Stats().Rejected)
}

func (suite *EngineTestSuite) TestSendRoute_TimeoutFallback() {
	// GOAL: Verify the engine connects to the first-seen device when nothing matches
	//
	// TEST SCENARIO: only non-matching devices advertise → window elapses → the first one is used anyway

	radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
		WithAdvertisement(addrHeart, "Heart Rate").
		WithAdvertisement(addrNav, "Thermometer").
		WithPeripheral(addrHeart).
		WithService(testutils.WaypointServiceUUID).
		WithCharacteristic(testutils.WaypointCharacteristicUUID, "write-nr"))
	engine := suite.newEngine(radio)

	res, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	suite.Equal(addrHeart, res.Device.ID, "fallback MUST be the first device observed")
	suite.False(res.Matched)
	suite.Equal([]string{addrHeart}, radio.Connects())
}

func (suite *EngineTestSuite) TestSendRoute_NoDeviceFound() {
	radio := suite.UseRadio(testutils.NewFakeRadioBuilder())
	engine := suite.newEngine(radio)

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.ErrorIs(err, scanner.ErrNoDeviceFound)
	suite.Equal(session.StageScanning, session.StageOf(err))
	suite.Equal(ftag.NotFound, session.KindOf(err))
	suite.Equal("No navigation device was found nearby.", session.UserMessage(err))
	suite.False(engine.Busy())
}

func (suite *EngineTestSuite) TestSendRoute_FastPathDemotion() {
	// GOAL: Verify a cached device that cannot be reached is replaced by exactly one fresh scan
	//
	// TEST SCENARIO: send A ok → device refuses a full attempt budget → send A demotes, rescans and succeeds
	//                → device refuses forever → send A demotes once and then fails

	engine := suite.newEngine(suite.Radio)

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	suite.Run("recovers through a scan", func() {
		suite.Radio.FailConnects(addrESP, 3)

		res, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.Require().NoError(err)

		suite.True(res.Demoted)
		suite.False(res.FastPath)
		suite.Equal(2, suite.Radio.ScanCount(), "demotion MUST trigger one fresh scan")
		suite.Equal(2, suite.Radio.ResetCount())
		suite.Equal(int64(1), engine.Stats().Demotions)

		_, ok := engine.Cache().LastKnownDevice()
		suite.True(ok, "successful demoted send MUST re-cache the device")
	})

	suite.Run("fails after a single fallback", func() {
		suite.Radio.FailConnects(addrESP, -1)
		connectsBefore := len(suite.Radio.Connects())
		scansBefore := suite.Radio.ScanCount()

		_, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.Require().ErrorIs(err, connection.ErrConnectionFailed)

		suite.Equal(scansBefore+1, suite.Radio.ScanCount(), "fallback scan MUST happen exactly once")
		suite.Equal(connectsBefore+6, len(suite.Radio.Connects()), "fast path and scan path MUST each use the full attempt budget")
		suite.Equal(session.StageConnecting, session.StageOf(err))
		suite.Equal(int64(2), engine.Stats().Demotions)

		_, ok := engine.Cache().LastKnownDevice()
		suite.False(ok, "failure MUST drop the cached device")
		suite.False(engine.Busy())
	})
}

func (suite *EngineTestSuite) TestSendRoute_ValidationNeverTouchesRadio() {
	// GOAL: Verify invalid routes fail before the guard and before any radio call
	//
	// TEST SCENARIO: cached send → 0, 1 and out-of-range points → radio counters and cache unchanged

	engine := suite.newEngine(suite.Radio)
	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	resets, scans, connects := suite.Radio.ResetCount(), suite.Radio.ScanCount(), len(suite.Radio.Connects())

	tests := []struct {
		name   string
		points []route.GeoPoint
		want   error
	}{
		{name: "no points", points: nil, want: route.ErrInsufficientWaypoints},
		{name: "one point", points: routeA[:1], want: route.ErrInsufficientWaypoints},
		{name: "latitude out of range", points: []route.GeoPoint{{Lat: 91, Lon: 0}, {Lat: 0, Lon: 0}}, want: route.ErrInvalidCoordinate},
		{name: "longitude out of range", points: []route.GeoPoint{{Lat: 0, Lon: 0}, {Lat: 0, Lon: -180.5}}, want: route.ErrInvalidCoordinate},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			_, err := engine.SendRoute(context.Background(), tt.points, nil)
			suite.ErrorIs(err, tt.want)
			suite.Equal(session.StagePreparing, session.StageOf(err))
			suite.Equal(ftag.InvalidArgument, session.KindOf(err))
		})
	}

	suite.Equal(resets, suite.Radio.ResetCount())
	suite.Equal(scans, suite.Radio.ScanCount())
	suite.Len(suite.Radio.Connects(), connects)
	suite.Zero(suite.Radio.SetPowerCount())

	_, ok := engine.Cache().LastKnownDevice()
	suite.True(ok, "validation failures MUST NOT touch the cache")
	suite.False(engine.Busy())
}

func (suite *EngineTestSuite) TestSendRoute_ChunkFailure() {
	// GOAL: Verify a failed write aborts the send, is not demoted, and drops the cached device
	//
	// TEST SCENARIO: send A ok → second write of later links fails → fast path send fails in TRANSMITTING

	engine := suite.newEngine(suite.Radio)
	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)
	writesBefore := len(suite.Radio.Writes())

	suite.Radio.FailWrite(1, errors.New("gatt busy"))

	_, err = engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().ErrorIs(err, transport.ErrChunkWriteFailed)

	var chunkErr *transport.ChunkWriteError
	suite.Require().ErrorAs(err, &chunkErr)
	suite.Equal(1, chunkErr.Index)
	suite.Equal(session.StageTransmitting, session.StageOf(err))
	suite.Contains(session.UserMessage(err), "stopped at part 2 of")

	suite.Equal(writesBefore+1, len(suite.Radio.Writes()), "writes after the failed chunk MUST NOT be issued")
	suite.Equal(1, suite.Radio.ScanCount(), "transmit failure MUST NOT demote to a scan")
	suite.Zero(suite.Radio.LiveConnections(), "failure MUST release the link")

	_, ok := engine.Cache().LastKnownDevice()
	suite.False(ok)
	suite.Equal(int64(1), engine.Stats().SendsFailed)
}

func (suite *EngineTestSuite) TestSendRoute_NoWritableCharacteristic() {
	radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
		WithAdvertisement(addrESP, "ESP32 Nav").
		WithPeripheral(addrESP).
		WithService("180F").
		WithCharacteristic("2A19", "read,notify"))
	engine := suite.newEngine(radio)

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.ErrorIs(err, connection.ErrNoWritableCharacteristic)
	suite.Equal(session.StageDiscovering, session.StageOf(err))
	suite.Zero(radio.LiveConnections(), "half-configured link MUST be released")
}

func (suite *EngineTestSuite) TestSendRoute_PowerOff() {
	suite.Run("stays off", func() {
		radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
			WithWaypointPeripheral(addrESP, "ESP32 Nav").
			WithPower(device.PoweredOff).
			WithSetPower(false, nil))
		engine := suite.newEngine(radio)

		_, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.ErrorIs(err, device.ErrBluetoothOff)
		suite.Equal(session.KindRadioOff, session.KindOf(err))
		suite.Equal(1, radio.SetPowerCount(), "power on MUST be requested once")
		suite.Zero(radio.ScanCount())
		suite.False(engine.Busy())
	})

	suite.Run("unsupported power control", func() {
		radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
			WithWaypointPeripheral(addrESP, "ESP32 Nav").
			WithPower(device.PoweredOff).
			WithSetPower(false, device.ErrUnsupported))
		engine := suite.newEngine(radio)

		_, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.ErrorIs(err, device.ErrBluetoothOff)
		suite.ErrorIs(err, device.ErrUnsupported)
	})

	suite.Run("turns on", func() {
		radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
			WithWaypointPeripheral(addrESP, "ESP32 Nav").
			WithPower(device.PoweredOff).
			WithSetPower(true, nil))
		engine := suite.newEngine(radio)

		_, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.NoError(err)
		suite.Equal(1, radio.SetPowerCount())
	})
}

func (suite *EngineTestSuite) TestSendRoute_ContextCancelled() {
	radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
		WithAdvertisement(addrHeart, "Heart Rate"))
	opts := fastOptions()
	opts.Scan.Window = time.Hour
	engine := session.NewEngine(radio, opts, suite.bus, suite.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err := engine.SendRoute(ctx, routeA, nil)
	suite.ErrorIs(err, context.DeadlineExceeded)
	suite.Equal(ftag.Cancelled, session.KindOf(err))
	suite.False(radio.Scanning(), "scan MUST be stopped")
	suite.False(engine.Busy())
}

// panickingRadio blows up in Reset to exercise the unexpected-failure exit path.
type panickingRadio struct {
	*testutils.FakeRadio
}

func (panickingRadio) Reset(context.Context) error {
	panic("stack corrupted")
}

func (suite *EngineTestSuite) TestSendRoute_PanicClearsGuard() {
	engine := suite.newEngine(panickingRadio{suite.Radio})

	_, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.ErrorContains(err, "unexpected failure: stack corrupted")
	suite.False(engine.Busy(), "guard MUST be cleared even after a panic")

	_, err = engine.SendRoute(context.Background(), routeA, nil)
	suite.NotErrorIs(err, session.ErrOperationInProgress, "next request MUST be accepted")
}

func (suite *EngineTestSuite) TestOutcomes() {
	// GOAL: Verify every terminal outcome is published exactly once with a user message
	//
	// TEST SCENARIO: successful send, invalid send, reset → one outcome each

	sub := suite.bus.Subscribe(eventbus.TopicOutcome)
	defer sub.Unsubscribe()

	engine := suite.newEngine(suite.Radio)

	res, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	o := suite.nextOutcome(sub)
	suite.True(o.Succeeded)
	suite.Equal(res.OpID, o.OpID)
	suite.Equal(eventbus.OpSendRoute, o.Operation)
	suite.Equal("Route sent to ESP32 Nav (AA:BB:CC:DD:EE:FF)", o.Message)
	suite.assertNoOutcome(sub)

	_, err = engine.SendRoute(context.Background(), routeA[:1], nil)
	suite.Require().Error(err)

	o = suite.nextOutcome(sub)
	suite.False(o.Succeeded)
	suite.Equal(string(session.StagePreparing), o.Stage)
	suite.Equal("At least two waypoints are needed to send a route.", o.Message)
	suite.assertNoOutcome(sub)

	suite.Require().NoError(engine.ResetRadioStack(context.Background()))
	o = suite.nextOutcome(sub)
	suite.True(o.Succeeded)
	suite.Equal(eventbus.OpReset, o.Operation)
	suite.assertNoOutcome(sub)
}

func (suite *EngineTestSuite) TestProgressEvents() {
	sub := suite.bus.Subscribe(eventbus.TopicProgress)
	defer sub.Unsubscribe()

	engine := suite.newEngine(suite.Radio)
	res, err := engine.SendRoute(context.Background(), routeA, nil)
	suite.Require().NoError(err)

	var states []string
	for len(states) < 6 {
		select {
		case v := <-sub.C:
			p := v.(eventbus.Progress)
			suite.Equal(res.OpID, p.OpID)
			states = append(states, p.State)
		case <-time.After(suite.TestTimeout):
			suite.FailNow("missing progress events", "%v", states)
		}
	}
	suite.Equal([]string{"PREPARING", "SCANNING", "CONNECTING", "DISCOVERING", "TRANSMITTING", "TERMINATED"}, states)
}

func (suite *EngineTestSuite) TestScanDebug() {
	// GOAL: Verify ScanDebug lists a full window of devices after a stack reset without sending
	//
	// TEST SCENARIO: three devices advertise → full window → all listed in order, nothing written

	radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
		WithAdvertisement(addrHeart, "Heart Rate").
		WithAdvertisement(addrESP, "ESP32 Nav", testutils.WaypointServiceUUID).
		WithAdvertisement(addrNav, "Navigator"))
	engine := suite.newEngine(radio)

	report, err := engine.ScanDebug(context.Background(), nil)
	suite.Require().NoError(err)

	data, err := json.Marshal(report.Devices)
	suite.Require().NoError(err)
	suite.JSON().Assert(string(data), `[
		{"id": "11:22:33:44:55:66", "displayName": "Heart Rate", "order": 1, "matched": false},
		{"id": "AA:BB:CC:DD:EE:FF", "displayName": "ESP32 Nav", "order": 2, "matched": true},
		{"id": "99:88:77:66:55:44", "displayName": "Navigator", "order": 3, "matched": true}
	]`)

	suite.GreaterOrEqual(report.Elapsed, 150*time.Millisecond, "scan debug MUST run the whole window")
	suite.Equal(1, radio.ResetCount())
	suite.Empty(radio.Connects(), "scan debug MUST NOT connect")
	suite.Empty(radio.Writes())
	suite.False(engine.Busy())
}

func (suite *EngineTestSuite) TestResetRadioStack() {
	suite.Run("clears the cache", func() {
		engine := suite.newEngine(suite.Radio)
		_, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.Require().NoError(err)

		suite.Require().NoError(engine.ResetRadioStack(context.Background()))

		suite.Empty(engine.Cache().LastSentPayload())
		_, ok := engine.Cache().LastKnownDevice()
		suite.False(ok)
		suite.Equal(2, suite.Radio.ResetCount())

		res, err := engine.SendRoute(context.Background(), routeA, nil)
		suite.Require().NoError(err)
		suite.False(res.FastPath, "a reset MUST force the next send to scan")
		suite.Equal(2, suite.Radio.ScanCount())
		suite.Equal(int64(3), engine.Stats().StackResets)
	})

	suite.Run("surfaces reset failures", func() {
		radio := suite.UseRadio(testutils.NewFakeRadioBuilder().
			WithResetError(errors.New("hci down")))
		engine := suite.newEngine(radio)

		err := engine.ResetRadioStack(context.Background())
		suite.ErrorIs(err, session.ErrResetFailed)
		suite.ErrorContains(err, "hci down")
		suite.Equal("Resetting the Bluetooth stack failed.", session.UserMessage(err))
		suite.False(engine.Busy())
	})
}

func TestEngineTestSuite(t *testing.T) {
	suitelib.Run(t, new(EngineTestSuite))
}
