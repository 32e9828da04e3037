// Пакет stage — конечный автомат стадий конвейера загрузки.
//
// Один проход вперёд, без повторов:
//
//	received → stream_copied → archive_opened → normalized → validated →
//	digested → quota_checked → committed
//
// Из любой нетерминальной стадии допустим переход в failed.
// committed и failed — терминальные.
package stage

import (
	"fmt"
	"time"
)

// Stage — стадия конвейера загрузки.
type Stage string

const (
	Received      Stage = "received"
	StreamCopied  Stage = "stream_copied"
	ArchiveOpened Stage = "archive_opened"
	Normalized    Stage = "normalized"
	Validated     Stage = "validated"
	Digested      Stage = "digested"
	QuotaChecked  Stage = "quota_checked"
	Committed     Stage = "committed"
	Failed        Stage = "failed"
)

// next — единственная допустимая следующая стадия (кроме failed).
var next = map[Stage]Stage{
	Received:      StreamCopied,
	StreamCopied:  ArchiveOpened,
	ArchiveOpened: Normalized,
	Normalized:    Validated,
	Validated:     Digested,
	Digested:      QuotaChecked,
	QuotaChecked:  Committed,
}

// TransitionRecord — запись о переходе между стадиями.
type TransitionRecord struct {
	From    Stage
	To      Stage
	Elapsed time.Duration
}

// Observer получает длительность каждой завершённой стадии.
type Observer func(from Stage, elapsed time.Duration)

// Tracker отслеживает стадию одного вызова конвейера.
// Не потокобезопасен: конвейер выполняется в одной горутине.
type Tracker struct {
	current   Stage
	enteredAt time.Time
	history   []TransitionRecord
	observer  Observer
	now       func() time.Time
}

// NewTracker создаёт трекер в стадии received.
func NewTracker(observer Observer) *Tracker {
	return newTracker(observer, time.Now)
}

func newTracker(observer Observer, now func() time.Time) *Tracker {
	return &Tracker{
		current:   Received,
		enteredAt: now(),
		observer:  observer,
		now:       now,
	}
}

// Current возвращает текущую стадию.
func (t *Tracker) Current() Stage {
	return t.current
}

// Advance переводит конвейер в следующую стадию.
// Пропуск стадий и движение назад запрещены.
func (t *Tracker) Advance(target Stage) error {
	if IsTerminal(t.current) {
		return fmt.Errorf("стадия %s терминальная, переход в %s недопустим", t.current, target)
	}
	if next[t.current] != target {
		return fmt.Errorf("переход %s → %s недопустим", t.current, target)
	}
	t.move(target)
	return nil
}

// Fail переводит конвейер в failed. Повторный вызов и вызов после
// committed ничего не меняют.
func (t *Tracker) Fail() {
	if IsTerminal(t.current) {
		return
	}
	t.move(Failed)
}

// History возвращает копию истории переходов.
func (t *Tracker) History() []TransitionRecord {
	out := make([]TransitionRecord, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) move(target Stage) {
	now := t.now()
	elapsed := now.Sub(t.enteredAt)
	t.history = append(t.history, TransitionRecord{From: t.current, To: target, Elapsed: elapsed})
	if t.observer != nil {
		t.observer(t.current, elapsed)
	}
	t.current = target
	t.enteredAt = now
}

// IsTerminal сообщает, является ли стадия конечной.
func IsTerminal(s Stage) bool {
	return s == Committed || s == Failed
}
