package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/domain/tone"
	"github.com/arthur326/ARMS/internal/rig"
)

// journal records rig and playback events in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.entries...)
}

// fakeRig implements Rig on top of a journal.
type fakeRig struct {
	journal *journal

	mu sync.Mutex
	// busy is consumed one sample per ChannelBusy call; the channel is clear afterwards.
	busy []bool
	// failChannel makes the next switch to a channel fail.
	failChannel map[int]error
	// down makes every switch fail.
	down error
	// switches counts channel switch attempts.
	switches int
}

func (r *fakeRig) SetChannel(_ context.Context, ch int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.switches++

	if r.down != nil {
		return r.down
	}

	if err, ok := r.failChannel[ch]; ok {
		delete(r.failChannel, ch)
		return err
	}

	r.journal.add("ch %d", ch)

	return nil
}

func (r *fakeRig) SetPTT(_ context.Context, ptt rig.PTT) error {
	if ptt == rig.RX {
		r.journal.add("ptt rx")
	} else {
		r.journal.add("ptt tx")
	}

	return nil
}

func (r *fakeRig) ChannelBusy(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.busy) == 0 {
		return false, nil
	}

	busy := r.busy[0]
	r.busy = r.busy[1:]

	return busy, nil
}

// fakePlayer implements Player on top of a journal.
type fakePlayer struct {
	journal *journal
	// block makes Play wait for ctx.
	block bool
}

func (p *fakePlayer) Play(ctx context.Context, id string, _ bool) error {
	p.journal.add("play %s", id)

	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}

	return nil
}

// reply is one scripted matcher answer. A reply without ok and err
// takes the whole wait before reporting no match.
type reply struct {
	value string
	ok    bool
	err   error
}

// fakeMatcher answers waits from per-method scripts. Once a script runs out
// drained is closed and every wait times out.
type fakeMatcher struct {
	mu         sync.Mutex
	tones      []reply
	instants   []reply
	sequences  []reply
	predicates []reply
	durations  []time.Duration

	drained chan struct{}
	once    sync.Once
}

func newFakeMatcher() *fakeMatcher {
	return &fakeMatcher{drained: make(chan struct{})}
}

func (m *fakeMatcher) next(ctx context.Context, queue *[]reply, maxDuration time.Duration) (reply, error) {
	m.mu.Lock()

	if len(*queue) == 0 {
		m.mu.Unlock()
		m.once.Do(func() { close(m.drained) })

		return reply{}, sleep(ctx, maxDuration)
	}

	r := (*queue)[0]
	*queue = (*queue)[1:]
	m.mu.Unlock()

	if !r.ok && r.err == nil {
		if err := sleep(ctx, maxDuration); err != nil {
			return reply{}, err
		}
	}

	return r, r.err
}

func (m *fakeMatcher) WaitForPredicate(
	ctx context.Context,
	maxDuration time.Duration,
	_ int,
	_ bool,
	_ func(string) bool,
) (string, bool, error) {
	r, err := m.next(ctx, &m.predicates, maxDuration)

	return r.value, r.ok, err
}

func (m *fakeMatcher) WaitForSequence(ctx context.Context, maxDuration time.Duration, _ bool, _ ...string) (string, bool, error) {
	r, err := m.next(ctx, &m.sequences, maxDuration)

	return r.value, r.ok, err
}

func (m *fakeMatcher) WaitForTone(ctx context.Context, maxDuration time.Duration, _ ...tone.Tone) (tone.Tone, bool, error) {
	m.mu.Lock()
	m.durations = append(m.durations, maxDuration)
	m.mu.Unlock()

	r, err := m.next(ctx, &m.tones, maxDuration)
	if err != nil || !r.ok {
		return 0, false, err
	}

	return tone.Tone(r.value[0]), true, nil
}

func (m *fakeMatcher) ReadInstantTone(ctx context.Context) (tone.Tone, bool, error) {
	r, err := m.next(ctx, &m.instants, 40*time.Millisecond)
	if err != nil || !r.ok {
		return 0, false, err
	}

	return tone.Tone(r.value[0]), true, nil
}

func (m *fakeMatcher) toneDurations() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]time.Duration(nil), m.durations...)
}

// fakeReporter keeps every reported status.
type fakeReporter struct {
	mu       sync.Mutex
	statuses []*alert.Status
}

func (r *fakeReporter) Report(_ context.Context, status *alert.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.statuses = append(r.statuses, status.Clone())
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.statuses)
}

func (r *fakeReporter) modes() []alert.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()

	modes := make([]alert.Mode, 0, len(r.statuses))
	for _, s := range r.statuses {
		if len(modes) == 0 || modes[len(modes)-1] != s.Mode {
			modes = append(modes, s.Mode)
		}
	}

	return modes
}

func (r *fakeReporter) episodes() []*alert.Episode {
	r.mu.Lock()
	defer r.mu.Unlock()

	var episodes []*alert.Episode

	for _, s := range r.statuses {
		if s.Episode != nil {
			episodes = append(episodes, s.Episode)
		}
	}

	return episodes
}

// instants returns n replies hearing value.
func instants(value string, n int) []reply {
	replies := make([]reply, n)
	for i := range replies {
		replies[i] = reply{value: value, ok: true}
	}

	return replies
}

// testConfig returns a valid configuration scanning channels 6 and 7.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.LastChannel = 7
	cfg.Scan.ToneDetectLength = 300 * time.Millisecond
	cfg.LongTone = config.LongTone{
		SamplingPeriod:          100 * time.Millisecond,
		TotalSamples:            5,
		RequiredPositiveSamples: 3,
		MaxPositiveSamples:      5,
	}
	cfg.Silence = config.Silence{
		SamplingPeriod:       200 * time.Millisecond,
		RequiredClearSamples: 2,
	}
	cfg.Paths.RepeaterNameDirectory = "audio/repeater_name"
	cfg.Paths.OperatorNameDirectory = "audio/operator_name"
	cfg.Operators = map[string]bool{"016": true, "038": false}

	cfg.Paragraphs = make(map[string][]string)
	for _, name := range config.RequiredParagraphs() {
		cfg.Paragraphs[name] = []string{name + ".wav"}
	}

	return cfg
}

// harness bundles a controller with its fakes.
type harness struct {
	journal  *journal
	rig      *fakeRig
	player   *fakePlayer
	matcher  *fakeMatcher
	reporter *fakeReporter
	ctrl     *Controller
}

func newHarness(cfg *config.Config) (*harness, error) {
	h := &harness{
		journal:  new(journal),
		matcher:  newFakeMatcher(),
		reporter: new(fakeReporter),
	}
	h.rig = &fakeRig{journal: h.journal}
	h.player = &fakePlayer{journal: h.journal}

	ctrl, err := New(cfg, h.rig, h.player, h.matcher, h.reporter)
	if err != nil {
		return nil, err
	}

	h.ctrl = ctrl

	return h, nil
}

// runUntilDrained runs the controller until its matcher script is used up.
func (h *harness) runUntilDrained() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)

	go func() {
		done <- h.ctrl.Run(ctx)
	}()

	select {
	case <-h.matcher.drained:
	case err := <-done:
		return err
	}

	cancel()

	return <-done
}

// plays returns the files played so far.
func (h *harness) plays() []string {
	var files []string

	for _, e := range h.journal.snapshot() {
		if file, ok := strings.CutPrefix(e, "play "); ok {
			files = append(files, file)
		}
	}

	return files
}
