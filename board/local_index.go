package board

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/exp/slices"
)

// the local index is the per device list of visited boards with their
// last viewport, plus the local identity

const DefaultBoardName = "Untitled Board"

var (
	localIndexBoardsBucket   = []byte("boards")
	localIndexIdentityBucket = []byte("identity")
	localIndexIdentityKey    = []byte("local")
)

func DefaultLocalIndexSettings() *LocalIndexSettings {
	return &LocalIndexSettings{
		OpenTimeout:   1 * time.Second,
		ViewportDelay: 500 * time.Millisecond,
	}
}

type LocalIndexSettings struct {
	OpenTimeout time.Duration
	// viewport saves are debounced by this delay
	ViewportDelay time.Duration
}

type BoardMeta struct {
	Id          string    `json:"id"`
	Name        string    `json:"name"`
	LastVisited time.Time `json:"lastVisited"`
	// opaque, supplied by the renderer
	Thumbnail string    `json:"thumbnail,omitempty"`
	Viewport  *Viewport `json:"viewport,omitempty"`
}

// BoardMetaUpdate holds the fields to change. nil fields are kept.
type BoardMetaUpdate struct {
	Name      *string
	Thumbnail *string
	Viewport  *Viewport
}

type LocalIndex struct {
	dir      string
	settings *LocalIndexSettings

	db *bolt.DB

	stateLock sync.Mutex
	closed    bool
}

func OpenLocalIndex(dir string, settings *LocalIndexSettings) (*LocalIndex, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dir, "index.db"), 0600, &bolt.Options{
		Timeout: settings.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{localIndexBoardsBucket, localIndexIdentityBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &LocalIndex{
		dir:      dir,
		settings: settings,
		db:       db,
	}, nil
}

// Dir is also the directory of the board caches.
func (self *LocalIndex) Dir() string {
	return self.dir
}

// Boards is every board, most recently visited first.
func (self *LocalIndex) Boards() ([]*BoardMeta, error) {
	boards := []*BoardMeta{}
	err := self.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(localIndexBoardsBucket).ForEach(func(k []byte, v []byte) error {
			board := &BoardMeta{}
			if err := json.Unmarshal(v, board); err != nil {
				glog.Infof("[index]skip %s: %s\n", string(k), err)
				return nil
			}
			boards = append(boards, board)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(boards, func(a *BoardMeta, b *BoardMeta) int {
		return b.LastVisited.Compare(a.LastVisited)
	})
	return boards, nil
}

// Board returns the board, or false when the board was never visited.
func (self *LocalIndex) Board(boardId string) (*BoardMeta, bool, error) {
	var board *BoardMeta
	err := self.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(localIndexBoardsBucket).Get([]byte(boardId))
		if v == nil {
			return nil
		}
		board = &BoardMeta{}
		return json.Unmarshal(v, board)
	})
	if err != nil {
		return nil, false, err
	}
	return board, board != nil, nil
}

// BoardName is the default name for a board never visited.
func (self *LocalIndex) BoardName(boardId string) string {
	if board, ok, err := self.Board(boardId); err == nil && ok {
		return board.Name
	}
	return DefaultBoardName
}

// Update adds or changes a board and marks it visited now.
func (self *LocalIndex) Update(boardId string, update BoardMetaUpdate) (*BoardMeta, error) {
	if boardId == "" {
		return nil, errors.New("Missing board id.")
	}
	var board *BoardMeta
	err := self.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(localIndexBoardsBucket)
		board = &BoardMeta{
			Id:   boardId,
			Name: DefaultBoardName,
		}
		if v := bucket.Get([]byte(boardId)); v != nil {
			if err := json.Unmarshal(v, board); err != nil {
				glog.Infof("[index]reset %s: %s\n", boardId, err)
			}
		}
		if update.Name != nil && *update.Name != "" {
			board.Name = *update.Name
		}
		if update.Thumbnail != nil {
			board.Thumbnail = *update.Thumbnail
		}
		if update.Viewport != nil {
			viewport := *update.Viewport
			board.Viewport = &viewport
		}
		board.LastVisited = time.Now()
		boardJson, err := json.Marshal(board)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(boardId), boardJson)
	})
	if err != nil {
		return nil, err
	}
	return board, nil
}

func (self *LocalIndex) Visit(boardId string) (*BoardMeta, error) {
	return self.Update(boardId, BoardMetaUpdate{})
}

func (self *LocalIndex) Rename(boardId string, name string) (*BoardMeta, error) {
	return self.Update(boardId, BoardMetaUpdate{Name: &name})
}

func (self *LocalIndex) SetThumbnail(boardId string, thumbnail string) (*BoardMeta, error) {
	return self.Update(boardId, BoardMetaUpdate{Thumbnail: &thumbnail})
}

// Viewport is the last saved viewport of a board, or the default.
func (self *LocalIndex) Viewport(boardId string) Viewport {
	if board, ok, err := self.Board(boardId); err == nil && ok && board.Viewport != nil {
		return *board.Viewport
	}
	return DefaultViewport()
}

func (self *LocalIndex) SaveViewport(boardId string, viewport Viewport) error {
	_, err := self.Update(boardId, BoardMetaUpdate{Viewport: &viewport})
	return err
}

// Remove drops the board from the index and deletes its local cache.
// The board must not be open.
func (self *LocalIndex) Remove(boardId string) error {
	err := self.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(localIndexBoardsBucket).Delete([]byte(boardId))
	})
	if err != nil {
		return err
	}
	return RemoveDocCache(self.dir, boardId)
}

// Identity is the saved local identity, if any.
func (self *LocalIndex) Identity() (Identity, bool) {
	var identity Identity
	var ok bool
	err := self.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(localIndexIdentityBucket).Get(localIndexIdentityKey)
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &identity); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		glog.Infof("[index]identity error = %s\n", err)
		return Identity{}, false
	}
	return identity, ok
}

func (self *LocalIndex) SaveIdentity(identity Identity) error {
	identityJson, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return self.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(localIndexIdentityBucket).Put(localIndexIdentityKey, identityJson)
	})
}

// LoadIdentity returns the saved identity, or creates and saves a random one.
func (self *LocalIndex) LoadIdentity() Identity {
	if identity, ok := self.Identity(); ok {
		return identity.Complete()
	}
	identity := NewRandomIdentity()
	if err := self.SaveIdentity(identity); err != nil {
		glog.Infof("[index]save identity error = %s\n", err)
	}
	return identity
}

func (self *LocalIndex) Close() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.closed {
		return
	}
	self.closed = true
	if err := self.db.Close(); err != nil {
		glog.Infof("[index]close error = %s\n", err)
	}
}

// ViewportSaver debounces viewport saves for one board.
type ViewportSaver struct {
	index   *LocalIndex
	boardId string

	viewport *Latest[Viewport]
	debounce *Debounce
}

func NewViewportSaver(index *LocalIndex, boardId string) *ViewportSaver {
	viewportSaver := &ViewportSaver{
		index:    index,
		boardId:  boardId,
		viewport: NewLatest(index.Viewport(boardId)),
	}
	viewportSaver.debounce = NewDebounce(index.settings.ViewportDelay, viewportSaver.save)
	return viewportSaver
}

func (self *ViewportSaver) Viewport() Viewport {
	return self.viewport.Get()
}

func (self *ViewportSaver) Set(viewport Viewport) {
	self.viewport.Set(viewport)
	self.debounce.Call()
}

func (self *ViewportSaver) save() {
	if err := self.index.SaveViewport(self.boardId, self.viewport.Get()); err != nil {
		glog.Infof("[index]%s save viewport error = %s\n", self.boardId, err)
	}
}

// Flush saves a pending viewport now.
func (self *ViewportSaver) Flush() {
	self.debounce.Flush()
}
