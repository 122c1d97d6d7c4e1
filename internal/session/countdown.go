package session

import (
	"fmt"
	"sync"
	"time"
)

const tickInterval = time.Second

// Countdown 基于截止时间的倒计时：剩余秒数每次由 deadline - now 计算，漏掉的 tick 不会累积误差。
// 到期回调在一次运行中最多触发一次。
type Countdown struct {
	clock    Clock
	onExpire func()
	ticks    chan int

	mu       sync.Mutex
	duration time.Duration
	deadline time.Time
	running  bool
	expired  bool
	last     int
	stop     chan struct{}
	once     *sync.Once
}

func NewCountdown(durationMinutes int, clock Clock, onExpire func()) (*Countdown, error) {
	if durationMinutes < 1 {
		return nil, fmt.Errorf("countdown duration must be at least 1 minute, got %d", durationMinutes)
	}
	if clock == nil {
		clock = RealClock{}
	}
	if onExpire == nil {
		onExpire = func() {}
	}
	return &Countdown{
		clock:    clock,
		onExpire: onExpire,
		ticks:    make(chan int, 1),
		duration: time.Duration(durationMinutes) * time.Minute,
		once:     &sync.Once{},
	}, nil
}

// Start 记录截止时间并开始每秒计时，重复调用无效
func (c *Countdown) Start() {
	c.mu.Lock()
	if c.running || c.expired {
		c.mu.Unlock()
		return
	}
	c.deadline = c.clock.Now().Add(c.duration)
	c.running = true
	c.last = c.remainingLocked()
	c.emitLocked(c.last)

	stop := make(chan struct{})
	c.stop = stop
	ticker := c.clock.NewTicker(tickInterval)
	c.mu.Unlock()

	go c.run(ticker, stop)
}

func (c *Countdown) run(ticker Ticker, stop <-chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if c.tick() {
				return
			}
		}
	}
}

// tick 重新计算剩余时间，到期时返回 true
func (c *Countdown) tick() bool {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return true
	}

	remaining := c.remainingLocked()
	if remaining < c.last {
		c.last = remaining
		c.emitLocked(remaining)
	}
	if remaining > 0 {
		c.mu.Unlock()
		return false
	}

	c.running = false
	c.expired = true
	c.closeStopLocked()
	once := c.once
	c.mu.Unlock()

	once.Do(c.onExpire)
	return true
}

// Stop 取消计时，不触发到期回调
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.closeStopLocked()
}

// Reset 停止当前计时并以新的时长重新开始（切换试卷时使用）
func (c *Countdown) Reset(durationMinutes int) error {
	if durationMinutes < 1 {
		return fmt.Errorf("countdown duration must be at least 1 minute, got %d", durationMinutes)
	}
	c.mu.Lock()
	c.running = false
	c.expired = false
	c.closeStopLocked()
	c.duration = time.Duration(durationMinutes) * time.Minute
	c.once = &sync.Once{}
	c.mu.Unlock()

	c.Start()
	return nil
}

// Remaining 剩余整秒数，向上取整且不小于 0；未开始时返回完整时长，停止后保持停止时的值
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.expired:
		return 0
	case c.running:
		return c.remainingLocked()
	case c.deadline.IsZero():
		return int(c.duration / time.Second)
	default:
		return c.last
	}
}

func (c *Countdown) Expired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

func (c *Countdown) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline
}

// Ticks 剩余秒数推送通道，只保留最新值；同一次运行中的值严格递减
func (c *Countdown) Ticks() <-chan int {
	return c.ticks
}

func (c *Countdown) remainingLocked() int {
	left := c.deadline.Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

func (c *Countdown) emitLocked(v int) {
	select {
	case c.ticks <- v:
		return
	default:
	}
	select {
	case <-c.ticks:
	default:
	}
	select {
	case c.ticks <- v:
	default:
	}
}

func (c *Countdown) closeStopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}
