package domain

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// State — упорядоченное отображение ключ → значение, протягиваемое
// через шаги процесса.
//
// Порядок вставки ключей сохраняется, в том числе при сериализации
// в JSON (checkpoint в БД) и обратно. Merge перезаписывает существующие
// ключи на месте, новые дописывает в конец.
//
// Значения — произвольные декодированные из JSON типы; проверка
// наличия обязательных ключей делается на этапе регистрации workflow,
// а не в момент вызова шага.
type State struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewState создаёт пустой state.
func NewState() State {
	return State{m: orderedmap.New[string, any]()}
}

func (s *State) ensure() {
	if s.m == nil {
		s.m = orderedmap.New[string, any]()
	}
}

// Get возвращает значение по ключу.
func (s State) Get(key string) (any, bool) {
	if s.m == nil {
		return nil, false
	}
	return s.m.Get(key)
}

// Set устанавливает значение по ключу.
// Существующий ключ сохраняет позицию, новый дописывается в конец.
func (s *State) Set(key string, value any) {
	s.ensure()
	s.m.Set(key, value)
}

// Len возвращает количество ключей.
func (s State) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

// Keys возвращает ключи в порядке вставки.
func (s State) Keys() []string {
	if s.m == nil {
		return nil
	}
	keys := make([]string, 0, s.m.Len())
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Clone возвращает независимую копию state (значения копируются по ссылке).
func (s State) Clone() State {
	out := NewState()
	if s.m == nil {
		return out
	}
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		out.m.Set(pair.Key, pair.Value)
	}
	return out
}

// Merge вливает update в state: существующие ключи перезаписываются,
// остальные сохраняются, новые дописываются в порядке update.
func (s *State) Merge(update State) {
	s.ensure()
	if update.m == nil {
		return
	}
	for pair := update.m.Oldest(); pair != nil; pair = pair.Next() {
		s.m.Set(pair.Key, pair.Value)
	}
}

// Subset возвращает новый state только с указанными ключами
// (отсутствующие пропускаются), в порядке keys.
func (s State) Subset(keys ...string) State {
	out := NewState()
	for _, key := range keys {
		if v, ok := s.Get(key); ok {
			out.m.Set(key, v)
		}
	}
	return out
}

// ToMap возвращает содержимое как обычную map (порядок теряется).
func (s State) ToMap() map[string]any {
	out := make(map[string]any, s.Len())
	if s.m == nil {
		return out
	}
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		out[pair.Key] = pair.Value
	}
	return out
}

// MarshalJSON сериализует state как JSON-объект с сохранением порядка ключей.
func (s State) MarshalJSON() ([]byte, error) {
	if s.m == nil {
		return []byte("{}"), nil
	}
	return s.m.MarshalJSON()
}

// UnmarshalJSON восстанавливает state из JSON-объекта с сохранением порядка.
func (s *State) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, any]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	s.m = m
	return nil
}
