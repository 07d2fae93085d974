package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"

	"github.com/betbot/pairlock/internal/events"
)

// Journal badger 落盘的决策日记，离线复盘用。
//
// 写入走缓冲通道 + 后台单写者：决策路径上只做一次非阻塞投递，
// 缓冲满就丢（丢弃计数可查）。键按 marketKey 前缀组织，
// 值为事件的 JSON，带 TTL 自动过期。
type Journal struct {
	db  *badger.DB
	ch  chan journalEntry
	ttl time.Duration

	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64

	// closeMu 保护 ch 的关闭：关闭后 offer 仍可被调用，只计丢弃
	closeMu sync.RWMutex
	closed  bool
}

type journalEntry struct {
	key []byte
	val []byte
}

// JournalOptions 日记配置
type JournalOptions struct {
	Path       string
	TTL        time.Duration // <=0 表示永久保留
	BufferSize int
}

// OpenJournal 打开（或创建）日记库并启动后台写者
func OpenJournal(opts JournalOptions) (*Journal, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("journal: path is required")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1024
	}

	bopts := badger.DefaultOptions(opts.Path).WithLogger(nil)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, errors.Wrap(err, "journal: open badger")
	}

	j := &Journal{
		db:  db,
		ch:  make(chan journalEntry, opts.BufferSize),
		ttl: opts.TTL,
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

// EmitDecision 非阻塞投递
func (j *Journal) EmitDecision(e *events.DecisionEvent) {
	val, err := json.Marshal(e)
	if err != nil {
		return
	}
	key := fmt.Sprintf("decision/%s/%020d/%s", e.MarketKey, e.At.UnixNano(), e.ID)
	j.offer(journalEntry{key: []byte(key), val: val})
}

// EmitStateChange 非阻塞投递
func (j *Journal) EmitStateChange(e *events.StateChangedEvent) {
	val, err := json.Marshal(e)
	if err != nil {
		return
	}
	key := fmt.Sprintf("state/%s/%020d", e.MarketKey, e.At.UnixNano())
	j.offer(journalEntry{key: []byte(key), val: val})
}

func (j *Journal) offer(entry journalEntry) {
	j.closeMu.RLock()
	defer j.closeMu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.ch <- entry:
	default:
		j.dropped.Add(1)
	}
}

// Dropped 因缓冲满被丢弃的事件数
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()
	for entry := range j.ch {
		err := j.db.Update(func(txn *badger.Txn) error {
			e := badger.NewEntry(entry.key, entry.val)
			if j.ttl > 0 {
				e = e.WithTTL(j.ttl)
			}
			return txn.SetEntry(e)
		})
		if err != nil {
			log.Warnf("📓 日记写入失败: %v", err)
		}
	}
}

// ForEachDecision 按时间顺序遍历某市场的决策事件（复盘工具用）
func (j *Journal) ForEachDecision(marketKey string, fn func(*events.DecisionEvent) error) error {
	prefix := []byte("decision/" + marketKey + "/")
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev events.DecisionEvent
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			})
			if err != nil {
				return err
			}
			if err := fn(&ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close 停止写者、冲掉缓冲并关库。关闭后的投递不报错也不 panic，只计丢弃。
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.closeMu.Lock()
		j.closed = true
		close(j.ch)
		j.closeMu.Unlock()
		j.wg.Wait()
		err = j.db.Close()
	})
	return err
}
