package workflow

// StepList — упорядоченная неизменяемая последовательность шагов.
//
// Методы не изменяют получателя: Then и Concat возвращают новый список.
// Конкатенация ассоциативна: порядок шагов результата — конкатенация
// порядков операндов.
//
// Перед выполнением список нормализуется реестром: внутренние sentinel'ы
// убираются, список обрамляется begin ... done.
type StepList struct {
	steps []Step
}

// Of создаёт StepList из перечисленных шагов.
func Of(steps ...Step) StepList {
	out := make([]Step, len(steps))
	copy(out, steps)
	return StepList{steps: out}
}

// Then возвращает новый список с шагом, добавленным в конец.
func (l StepList) Then(s Step) StepList {
	out := make([]Step, 0, len(l.steps)+1)
	out = append(out, l.steps...)
	out = append(out, s)
	return StepList{steps: out}
}

// Concat возвращает конкатенацию a и b.
func Concat(a, b StepList) StepList {
	out := make([]Step, 0, len(a.steps)+len(b.steps))
	out = append(out, a.steps...)
	out = append(out, b.steps...)
	return StepList{steps: out}
}

// Len возвращает количество шагов.
func (l StepList) Len() int { return len(l.steps) }

// At возвращает шаг по индексу.
func (l StepList) At(i int) Step { return l.steps[i] }

// Steps возвращает копию шагов в порядке списка.
func (l StepList) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Normalize убирает все sentinel-шаги и обрамляет список begin ... done.
//
// Благодаря этому Concat двух нормализованных списков после повторной
// нормализации не содержит sentinel'ов в середине, и инвариант
// «начинается с begin, заканчивается done» держится при любой композиции.
func (l StepList) Normalize() StepList {
	out := make([]Step, 0, len(l.steps)+2)
	out = append(out, Begin())
	for _, s := range l.steps {
		if s.IsSentinel() {
			continue
		}
		out = append(out, s)
	}
	out = append(out, Done())
	return StepList{steps: out}
}
