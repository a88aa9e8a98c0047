package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeAppender struct {
	types    []string
	contents [][]byte
	err      error
}

func (f *fakeAppender) AppendEvent(ctx context.Context, ts time.Time, typ string, content []byte) error {
	if f.err != nil {
		return f.err
	}
	f.types = append(f.types, typ)
	f.contents = append(f.contents, content)
	return nil
}

type fakePublisher struct {
	types     []string
	envelopes [][]byte
}

func (f *fakePublisher) PublishEvent(typ string, envelope []byte) {
	f.types = append(f.types, typ)
	f.envelopes = append(f.envelopes, envelope)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitAppendsTypedPayload(t *testing.T) {
	app := &fakeAppender{}
	l := New(app, discardLogger())

	err := l.Emit(context.Background(), TradePayload{
		AssetBought:    "eth",
		AssetSold:      "btc",
		ProfitLossPct:  2.5,
		TrendWindow:    50,
		MomentumWindow: 20,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}

	if len(app.types) != 1 || app.types[0] != string(TypeTrade) {
		t.Fatalf("appended types = %v, want [TRADE]", app.types)
	}
	var got TradePayload
	if err := json.Unmarshal(app.contents[0], &got); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if got.AssetBought != "eth" || got.TrendWindow != 50 {
		t.Errorf("round-tripped payload = %+v", got)
	}
}

func TestEmitFansOutEnvelope(t *testing.T) {
	app := &fakeAppender{}
	pub1 := &fakePublisher{}
	pub2 := &fakePublisher{}
	l := New(app, discardLogger(), pub1, pub2)

	if err := l.Emit(context.Background(), StatusPayload{Status: "up"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	for i, pub := range []*fakePublisher{pub1, pub2} {
		if len(pub.envelopes) != 1 {
			t.Fatalf("publisher %d got %d envelopes, want 1", i, len(pub.envelopes))
		}
		var env Envelope
		if err := json.Unmarshal(pub.envelopes[0], &env); err != nil {
			t.Fatalf("publisher %d envelope: %v", i, err)
		}
		if env.Type != TypeStatus {
			t.Errorf("publisher %d envelope type = %s, want STATUS", i, env.Type)
		}
		if env.TS == "" {
			t.Errorf("publisher %d envelope missing timestamp", i)
		}
	}
}

func TestEmitAppendFailureReturnsAndSkipsFanOut(t *testing.T) {
	app := &fakeAppender{err: errors.New("disk full")}
	pub := &fakePublisher{}
	l := New(app, discardLogger(), pub)

	hookCalls := 0
	l.OnEmit = func(string) { hookCalls++ }

	if err := l.Emit(context.Background(), StatusPayload{Status: "up"}); err == nil {
		t.Fatal("append failure should propagate")
	}
	if len(pub.envelopes) != 0 {
		t.Error("failed append must not fan out")
	}
	if hookCalls != 0 {
		t.Error("failed append must not fire OnEmit")
	}
}

func TestEmitNilPayload(t *testing.T) {
	l := New(&fakeAppender{}, discardLogger())
	if err := l.Emit(context.Background(), nil); err == nil {
		t.Error("nil payload should error")
	}
}

func TestEmitHook(t *testing.T) {
	app := &fakeAppender{}
	l := New(app, discardLogger())

	var hooked []string
	l.OnEmit = func(typ string) { hooked = append(hooked, typ) }

	l.Emit(context.Background(), StatusPayload{Status: "a"})
	l.Emit(context.Background(), ErrorPayload{Component: "test", Error: "boom"})

	if len(hooked) != 2 || hooked[0] != string(TypeStatus) || hooked[1] != string(TypeError) {
		t.Errorf("OnEmit saw %v, want [STATUS ERROR]", hooked)
	}
}
