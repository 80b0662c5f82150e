package strand

import "testing"

type queueitem struct {
	key string
}

func (a *queueitem) less(b *queueitem) bool { return a.key < b.key }

func TestOrderedQueue(t *testing.T) {
	t.Run("Overall", func(t *testing.T) {
		var q orderedqueue[*queueitem]

		for _, r := range "abcdefgh" {
			q.Push(&queueitem{key: string(r)})
		}

		for _, r := range "abcd" {
			if u := q.Pop(); u.key != string(r) {
				t.FailNow()
			}
		}

		for _, r := range "ijk" {
			q.Push(&queueitem{key: string(r)})
		}

		q.Push(&queueitem{key: "d"})

		if u := q.Pop(); u.key != "d" {
			t.FailNow()
		}

		q.Push(&queueitem{key: "g"})
		q.Push(&queueitem{key: "f"})

		for _, r := range "effgghijk" {
			if u := q.Pop(); u.key != string(r) {
				t.FailNow()
			}
		}

		if !q.Empty() {
			t.FailNow()
		}
	})
	t.Run("FIFO", func(t *testing.T) {
		var q orderedqueue[*queueitem]

		u := &queueitem{key: "/"}
		v := &queueitem{key: "/"}
		w := &queueitem{key: "/"}

		q.Push(u)
		q.Push(v)
		q.Push(w)

		if q.Pop() != u || q.Pop() != v || q.Pop() != w {
			t.FailNow()
		}
	})
	t.Run("Drain", func(t *testing.T) {
		var q orderedqueue[*queueitem]

		for _, r := range "cab" {
			q.Push(&queueitem{key: string(r)})
		}

		s := q.Drain()
		if len(s) != 3 || s[0].key != "a" || s[1].key != "b" || s[2].key != "c" {
			t.FailNow()
		}
		if !q.Empty() {
			t.FailNow()
		}
	})
}
