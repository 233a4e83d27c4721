package lifecycle

import "reflect"

// ConfigDelta вычисляет отображаемую разницу двух конфигураций.
//
// Результат — map ключ → {"from": старое, "to": новое}; вложенные
// map'ы сравниваются рекурсивно. Пустая дельта означает отсутствие
// изменений.
func ConfigDelta(before, after map[string]any) map[string]any {
	delta := make(map[string]any)

	for key, oldVal := range before {
		newVal, exists := after[key]
		if !exists {
			delta[key] = map[string]any{"from": oldVal, "to": nil}
			continue
		}

		oldMap, oldIsMap := oldVal.(map[string]any)
		newMap, newIsMap := newVal.(map[string]any)
		if oldIsMap && newIsMap {
			if nested := ConfigDelta(oldMap, newMap); len(nested) > 0 {
				delta[key] = nested
			}
			continue
		}

		if !reflect.DeepEqual(oldVal, newVal) {
			delta[key] = map[string]any{"from": oldVal, "to": newVal}
		}
	}

	for key, newVal := range after {
		if _, exists := before[key]; !exists {
			delta[key] = map[string]any{"from": nil, "to": newVal}
		}
	}

	return delta
}
