package board

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func IdFromBytes(idBytes []byte) (Id, error) {
	if len(idBytes) != 16 {
		return Id{}, errors.New("Id must be 16 bytes")
	}
	return Id(idBytes), nil
}

func ParseId(idStr string) (Id, error) {
	return parseUuid(idStr)
}

func (self Id) Bytes() []byte {
	return self[0:16]
}

func (self Id) String() string {
	return encodeUuid(self)
}

func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) Cmp(b Id) int {
	return bytes.Compare(self[:], b[:])
}

func (self Id) MarshalText() ([]byte, error) {
	return []byte(encodeUuid(self)), nil
}

func (self *Id) UnmarshalText(src []byte) error {
	buf, err := parseUuid(string(src))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse UUID %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// shape ids are random v4 uuid strings so they can be created offline on any client
func NewShapeId() string {
	return uuid.NewString()
}

// makes a copy of the list on update
type CallbackList[T any] struct {
	mutex         sync.Mutex
	nextId        int
	callbacks     map[int]T
	orderedValues []T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *CallbackList[T]) Get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.orderedValues
}

func (self *CallbackList[T]) Add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.callbacks[callbackId] = callback
	self.update()
	return callbackId
}

func (self *CallbackList[T]) Remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if _, ok := self.callbacks[callbackId]; !ok {
		// not present
		return
	}
	delete(self.callbacks, callbackId)
	self.update()
}

// must be called with `mutex`
func (self *CallbackList[T]) update() {
	callbackIds := maps.Keys(self.callbacks)
	slices.Sort(callbackIds)
	orderedValues := make([]T, 0, len(callbackIds))
	for _, callbackId := range callbackIds {
		orderedValues = append(orderedValues, self.callbacks[callbackId])
	}
	self.orderedValues = orderedValues
}

// Latest holds the most recent value of a setting that is read at call time,
// e.g. the active tool or identity read by a throttled broadcast.
type Latest[T any] struct {
	value atomic.Pointer[T]
}

func NewLatest[T any](value T) *Latest[T] {
	latest := &Latest[T]{}
	latest.Set(value)
	return latest
}

func (self *Latest[T]) Get() T {
	return *self.value.Load()
}

func (self *Latest[T]) Set(value T) {
	self.value.Store(&value)
}

// Throttle runs `fn` at most once per `interval`.
// A call inside the interval is deferred to the end of the interval, so the last call always runs.
type Throttle struct {
	interval time.Duration
	fn       func()

	stateLock sync.Mutex
	last      time.Time
	timer     *time.Timer
	closed    bool
}

func NewThrottle(interval time.Duration, fn func()) *Throttle {
	return &Throttle{
		interval: interval,
		fn:       fn,
	}
}

func (self *Throttle) Call() {
	leading := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()

		if self.closed || self.timer != nil {
			// a trailing call is already scheduled
			return
		}

		elapsed := time.Since(self.last)
		if self.interval <= elapsed {
			self.last = time.Now()
			leading = true
			return
		}
		self.timer = time.AfterFunc(self.interval-elapsed, self.fire)
	}()
	if leading {
		HandleError(self.fn)
	}
}

func (self *Throttle) fire() {
	closed := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		closed = self.closed
		self.timer = nil
		self.last = time.Now()
	}()
	if !closed {
		HandleError(self.fn)
	}
}

func (self *Throttle) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.closed = true
	if self.timer != nil {
		self.timer.Stop()
		self.timer = nil
	}
}

// Debounce runs `fn` once no call has happened for `delay`.
type Debounce struct {
	delay time.Duration
	fn    func()

	stateLock sync.Mutex
	timer     *time.Timer
}

func NewDebounce(delay time.Duration, fn func()) *Debounce {
	return &Debounce{
		delay: delay,
		fn:    fn,
	}
}

func (self *Debounce) Call() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.timer != nil {
		self.timer.Stop()
	}
	self.timer = time.AfterFunc(self.delay, func() {
		HandleError(self.fn)
	})
}

// Flush runs a pending call now.
func (self *Debounce) Flush() {
	pending := false
	func() {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.timer != nil {
			pending = self.timer.Stop()
			self.timer = nil
		}
	}()
	if pending {
		HandleError(self.fn)
	}
}

type Event struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEventWithContext(ctx context.Context) *Event {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Event{
		ctx:    cancelCtx,
		cancel: cancel,
	}
}

func (self *Event) Ctx() context.Context {
	return self.ctx
}

func (self *Event) Set() {
	self.cancel()
}

func (self *Event) SetOnSignals(signalValues ...os.Signal) func() {
	stopSignal := make(chan os.Signal, len(signalValues))
	for _, signalValue := range signalValues {
		signal.Notify(stopSignal, signalValue)
	}
	go func() {
		defer signal.Stop(stopSignal)
		select {
		case _, ok := <-stopSignal:
			if ok {
				self.Set()
			}
		case <-self.ctx.Done():
		}
	}()
	return func() {
		signal.Stop(stopSignal)
	}
}
