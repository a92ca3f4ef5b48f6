package client

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/justbri/shelfmark/models"
	"github.com/justbri/shelfmark/shared/logger"
)

const (
	DefaultPollInterval   = 15 * time.Second
	DefaultRedialInterval = 5 * time.Second

	// The server pings every 30s; two missed pings mean the stream is dead.
	pushReadWait = 60 * time.Second
)

// Subscription delivers "something changed, refetch" signals. Triggers
// coalesce: a consumer that is busy sees at most one pending trigger.
type Subscription interface {
	Triggers() <-chan struct{}
	Close() error
}

func fire(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PushSubscription turns events from the websocket stream into triggers.
type PushSubscription struct {
	conn     *websocket.Conn
	triggers chan struct{}
	done     chan struct{}
	once     sync.Once
}

// DialPush opens the event stream using the API's session.
func DialPush(ctx context.Context, api *API) (*PushSubscription, error) {
	return DialPushURL(ctx, api.EventsURL(), api.SessionHeader())
}

func DialPushURL(ctx context.Context, url string, header http.Header) (*PushSubscription, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}

	p := &PushSubscription{
		conn:     conn,
		triggers: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pushReadWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pushReadWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	go p.read()
	return p, nil
}

func (p *PushSubscription) read() {
	defer close(p.done)
	for {
		var ev models.Event
		if err := p.conn.ReadJSON(&ev); err != nil {
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pushReadWait))
		fire(p.triggers)
	}
}

func (p *PushSubscription) Triggers() <-chan struct{} { return p.triggers }

// Done is closed once the stream has ended for any reason.
func (p *PushSubscription) Done() <-chan struct{} { return p.done }

func (p *PushSubscription) Close() error {
	var err error
	p.once.Do(func() {
		err = p.conn.Close()
		<-p.done
	})
	return err
}

// PollSubscription triggers on a fixed interval.
type PollSubscription struct {
	triggers chan struct{}
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func NewPollSubscription(interval time.Duration) *PollSubscription {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &PollSubscription{
		triggers: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				fire(p.triggers)
			}
		}
	}()
	return p
}

func (p *PollSubscription) Triggers() <-chan struct{} { return p.triggers }

func (p *PollSubscription) Close() error {
	p.once.Do(func() {
		close(p.stop)
		<-p.done
	})
	return nil
}

type Mode int32

const (
	ModeConnecting Mode = iota
	ModePush
	ModePoll
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePoll:
		return "poll"
	default:
		return "connecting"
	}
}

type LiveOptions struct {
	PollInterval   time.Duration
	RedialInterval time.Duration
}

// DialFunc opens a push stream.
type DialFunc func(ctx context.Context) (*PushSubscription, error)

// LiveSubscription prefers the push stream and falls back to polling while
// the stream is down. It keeps redialing; once the stream is back the poll
// timer stops at once and a single trigger is emitted so the consumer
// catches up on anything missed.
type LiveSubscription struct {
	dial     DialFunc
	opts     LiveOptions
	triggers chan struct{}
	mode     atomic.Int32
	log      *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewLiveSubscription(ctx context.Context, dial DialFunc, opts LiveOptions) *LiveSubscription {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.RedialInterval <= 0 {
		opts.RedialInterval = DefaultRedialInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &LiveSubscription{
		dial:     dial,
		opts:     opts,
		triggers: make(chan struct{}, 1),
		log:      logger.For("subscription"),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go l.run(ctx)
	return l
}

func (l *LiveSubscription) Triggers() <-chan struct{} { return l.triggers }

func (l *LiveSubscription) Mode() Mode { return Mode(l.mode.Load()) }

func (l *LiveSubscription) Close() error {
	l.once.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}

func (l *LiveSubscription) run(ctx context.Context) {
	defer close(l.done)

	var (
		push     *PushSubscription
		poll     *PollSubscription
		degraded bool
	)
	defer func() {
		if push != nil {
			push.Close()
		}
		if poll != nil {
			poll.Close()
		}
	}()

	startPolling := func() {
		if poll == nil {
			poll = NewPollSubscription(l.opts.PollInterval)
		}
		degraded = true
		l.mode.Store(int32(ModePoll))
	}

	redial := time.NewTimer(0)
	defer redial.Stop()

	for {
		var pushTriggers, pushDone, pollTriggers <-chan struct{}
		var redialC <-chan time.Time
		if push != nil {
			pushTriggers, pushDone = push.Triggers(), push.Done()
		} else {
			redialC = redial.C
		}
		if poll != nil {
			pollTriggers = poll.Triggers()
		}

		select {
		case <-ctx.Done():
			return
		case <-pushTriggers:
			fire(l.triggers)
		case <-pollTriggers:
			fire(l.triggers)
		case <-pushDone:
			push.Close()
			push = nil
			l.log.Info("Event stream lost, falling back to polling", "interval", l.opts.PollInterval)
			startPolling()
			redial.Reset(l.opts.RedialInterval)
		case <-redialC:
			p, err := l.dial(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				l.log.Debug("Event stream dial failed", "error", err)
				startPolling()
				redial.Reset(l.opts.RedialInterval)
				continue
			}
			push = p
			if poll != nil {
				poll.Close()
				poll = nil
			}
			l.mode.Store(int32(ModePush))
			if degraded {
				l.log.Info("Event stream restored")
				degraded = false
				fire(l.triggers)
			}
		}
	}
}
