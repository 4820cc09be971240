package board

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"

	"github.com/sketchsync/sketch/protocol"
)

// the local durable cache keeps the winning op per key, including tombstones,
// so a replay is an ordinary merge into the document

var docCacheOpsBucket = []byte("ops")

func DefaultDocCacheSettings() *DocCacheSettings {
	return &DocCacheSettings{
		OpenTimeout: 1 * time.Second,
	}
}

type DocCacheSettings struct {
	// another process holding the board file lock
	OpenTimeout time.Duration
}

type DocCache struct {
	ctx    context.Context
	cancel context.CancelFunc

	boardId  string
	path     string
	settings *DocCacheSettings

	db *bolt.DB

	synced         chan struct{}
	syncedCallback *CallbackList[func()]

	stateLock sync.Mutex
	unbind    func()
	closed    bool
}

func docCachePath(dir string, boardId string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.board", url.PathEscape(boardId)))
}

func OpenDocCache(ctx context.Context, dir string, boardId string, settings *DocCacheSettings) (*DocCache, error) {
	if boardId == "" {
		return nil, errors.New("Missing board id.")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	path := docCachePath(dir, boardId)
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: settings.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(docCacheOpsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	docCache := &DocCache{
		ctx:            cancelCtx,
		cancel:         cancel,
		boardId:        boardId,
		path:           path,
		settings:       settings,
		db:             db,
		synced:         make(chan struct{}),
		syncedCallback: NewCallbackList[func()](),
	}
	go func() {
		<-cancelCtx.Done()
		docCache.Close()
	}()
	return docCache, nil
}

// Bind replays the cache into `store` and then persists every later write.
// `Synced` is signaled when the replay is complete, independent of any network.
func (self *DocCache) Bind(store *DocStore) error {
	unbind := store.AddUpdateCallback(func(update *protocol.Update, origin Origin) {
		if origin == OriginCache {
			return
		}
		self.persist(update)
	})

	bindErr := func() error {
		self.stateLock.Lock()
		defer self.stateLock.Unlock()
		if self.closed {
			return errors.New("Cache closed.")
		}
		if self.unbind != nil {
			return errors.New("Cache already bound.")
		}
		self.unbind = unbind
		return nil
	}()
	if bindErr != nil {
		unbind()
		return bindErr
	}

	update, err := self.load()
	if err != nil {
		glog.Infof("[cache]%s replay error = %s\n", self.boardId, err)
		return err
	}
	store.ApplyUpdate(update, OriginCache)
	glog.V(2).Infof("[cache]%s replayed %d ops\n", self.boardId, len(update.Ops))

	close(self.synced)
	for _, callback := range self.syncedCallback.Get() {
		HandleError(callback)
	}
	return nil
}

func (self *DocCache) load() (*protocol.Update, error) {
	update := &protocol.Update{}
	err := self.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(docCacheOpsBucket)
		return bucket.ForEach(func(k []byte, v []byte) error {
			op := &protocol.Op{}
			if err := op.Unmarshal(v); err != nil {
				// a partial record from a crash is skipped, the network sync restores it
				glog.Infof("[cache]%s skip %s: %s\n", self.boardId, string(k), err)
				return nil
			}
			update.Ops = append(update.Ops, op)
			return nil
		})
	})
	return update, err
}

func (self *DocCache) persist(update *protocol.Update) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}
	err := self.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(docCacheOpsBucket)
		for _, op := range update.Ops {
			if err := bucket.Put([]byte(op.Key), op.Marshal()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		glog.Infof("[cache]%s persist error = %s\n", self.boardId, err)
	}
}

func (self *DocCache) Synced() <-chan struct{} {
	return self.synced
}

// AddSyncedCallback is called once after the replay. It is not called when added after the replay.
func (self *DocCache) AddSyncedCallback(callback func()) func() {
	callbackId := self.syncedCallback.Add(callback)
	return func() {
		self.syncedCallback.Remove(callbackId)
	}
}

func (self *DocCache) BoardId() string {
	return self.boardId
}

// Close is idempotent. It is also called when the open context is done.
func (self *DocCache) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}
	self.closed = true
	self.cancel()
	if self.unbind != nil {
		self.unbind()
		self.unbind = nil
	}
	if err := self.db.Close(); err != nil {
		glog.Infof("[cache]%s close error = %s\n", self.boardId, err)
	}
}

// RemoveDocCache deletes the cache of a board. The cache must not be open.
func RemoveDocCache(dir string, boardId string) error {
	err := os.Remove(docCachePath(dir, boardId))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
