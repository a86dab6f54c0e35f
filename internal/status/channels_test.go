package status

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"options-trader/infrastructure/logger"
)

func TestDailyFileChannel(t *testing.T) {
	dir := t.TempDir()
	ch := NewDailyFileChannel(dir)
	defer ch.Close()

	day1 := time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)
	day2 := day1.Add(24 * time.Hour)
	require.NoError(t, ch.Send(Event{Kind: KindState, Message: "Trading started for stock: AAPL.", Time: day1}))
	require.NoError(t, ch.Send(Event{Kind: KindPrice, Message: "Current Price: 101", Time: day1}))
	require.NoError(t, ch.Send(Event{Kind: KindLog, Message: "BUY order completed", Time: day1.Add(time.Minute)}))
	require.NoError(t, ch.Send(Event{Kind: KindError, Message: "Failed", Time: day2}))

	raw, err := os.ReadFile(ch.Path("2025-03-14"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Equal(t, []string{
		"[2025-03-14 09:30:00] Trading started for stock: AAPL.",
		"[2025-03-14 09:31:00] BUY order completed",
	}, lines)

	raw, err = os.ReadFile(ch.Path("2025-03-15"))
	require.NoError(t, err)
	assert.Equal(t, "[2025-03-15 09:30:00] Failed\n", string(raw))
}

func TestDailyFileChannelAppends(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.Local)
	for i := 0; i < 2; i++ {
		ch := NewDailyFileChannel(dir)
		require.NoError(t, ch.Send(Event{Kind: KindLog, Message: "line", Time: ts}))
		require.NoError(t, ch.Close())
	}
	raw, err := os.ReadFile(NewDailyFileChannel(dir).Path("2025-01-02"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(raw), "line"))
}

func TestRing(t *testing.T) {
	r := NewRing(3)
	assert.Empty(t, r.Recent(0))
	for _, m := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Send(Event{Kind: KindLog, Message: m}))
	}
	require.NoError(t, r.Send(Event{Kind: KindPrice, Message: "p"}))

	got := r.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Message)
	assert.Equal(t, "p", got[2].Message)
	assert.Len(t, r.Recent(2), 2)
	assert.Equal(t, []string{"c", "d"}, r.Messages(KindLog))
}

func TestLoggerChannelLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ch := NewLoggerChannel(&logger.Logger{Logger: zap.New(core)})

	require.NoError(t, ch.Send(Event{Kind: KindPrice, Message: "Current Price: 1"}))
	require.NoError(t, ch.Send(Event{Kind: KindError, Message: "bad"}))
	require.NoError(t, ch.Send(Event{Kind: KindState, Message: "Trading stopped."}))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, zap.InfoLevel, entries[2].Level)
	assert.Equal(t, "Trading stopped.", entries[2].ContextMap()["message"])
}

func TestFuncChannel(t *testing.T) {
	var got []Event
	ch := NewFuncChannel("panel", func(e Event) { got = append(got, e) })
	require.NoError(t, ch.Send(Event{Kind: KindContract, Message: "Symbol: AAPL"}))
	assert.Equal(t, "panel", ch.Name())
	assert.Len(t, got, 1)
}
