package dummy

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Vote outcome codes returned in the "result" column.
const (
	VoteAccepted         = 0
	VoteInvalidCandidate = 1
	VoteOverLimit        = 2
)

type greeting struct {
	hello string
	world string
}

// Store is the in-memory state behind the fake procedures.
type Store struct {
	mu         sync.Mutex
	greetings  map[string]greeting
	candidates []string
	votes      []int64
	perPhone   map[int64]int64
}

func NewStore() *Store {
	return &Store{
		greetings: make(map[string]greeting),
		perPhone:  make(map[int64]int64),
	}
}

func (st *Store) Insert(hello, world, language string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.greetings[language] = greeting{hello: hello, world: world}
}

func (st *Store) Select(language string) (hello, world string, ok bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	g, ok := st.greetings[language]
	return g.hello, g.world, ok
}

// Initialize resets the contest to the first n comma separated names.
func (st *Store) Initialize(n int, names string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	var list []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			list = append(list, name)
		}
	}
	if n < len(list) {
		list = list[:n]
	}
	st.candidates = list
	st.votes = make([]int64, len(list))
	st.perPhone = make(map[int64]int64)
	return len(list)
}

// Vote registers one vote for candidate (1-based) from phone.
func (st *Store) Vote(phone int64, candidate int, maxVotes int64) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	if candidate < 1 || candidate > len(st.candidates) {
		return VoteInvalidCandidate
	}
	if st.perPhone[phone] >= maxVotes {
		return VoteOverLimit
	}
	st.perPhone[phone]++
	st.votes[candidate-1]++
	return VoteAccepted
}

// Counts returns the greeting row count and the per-candidate vote totals.
func (st *Store) Counts() (greetings int, candidates []string, votes []int64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.greetings), append([]string(nil), st.candidates...), append([]int64(nil), st.votes...)
}

func (s *server) insert(params []any) ([]map[string]any, error) {
	if err := arity(params, 3); err != nil {
		return nil, err
	}
	hello, err1 := asString(params[0])
	world, err2 := asString(params[1])
	language, err3 := asString(params[2])
	if err := firstErr(err1, err2, err3); err != nil {
		return nil, err
	}
	s.store.Insert(hello, world, language)
	return []map[string]any{{"modified_tuples": 1}}, nil
}

func (s *server) selectRow(params []any) ([]map[string]any, error) {
	if err := arity(params, 1); err != nil {
		return nil, err
	}
	language, err := asString(params[0])
	if err != nil {
		return nil, err
	}
	hello, world, ok := s.store.Select(language)
	if !ok {
		return []map[string]any{}, nil
	}
	return []map[string]any{{"hello": hello, "world": world, "dialect": language}}, nil
}

func (s *server) results(params []any) ([]map[string]any, error) {
	if err := arity(params, 0); err != nil {
		return nil, err
	}
	greetings, names, votes := s.store.Counts()
	rows := []map[string]any{{"table": "helloworld", "count": greetings}}
	for i, name := range names {
		rows = append(rows, map[string]any{
			"contestant_name":   name,
			"contestant_number": i + 1,
			"total_votes":       votes[i],
		})
	}
	return rows, nil
}

func (s *server) initialize(params []any) ([]map[string]any, error) {
	if err := arity(params, 2); err != nil {
		return nil, err
	}
	n, err1 := asInt(params[0])
	names, err2 := asString(params[1])
	if err := firstErr(err1, err2); err != nil {
		return nil, err
	}
	count := s.store.Initialize(int(n), names)
	return []map[string]any{{"contestants": count}}, nil
}

func (s *server) vote(params []any) ([]map[string]any, error) {
	if err := arity(params, 3); err != nil {
		return nil, err
	}
	phone, err1 := asInt(params[0])
	candidate, err2 := asInt(params[1])
	maxVotes, err3 := asInt(params[2])
	if err := firstErr(err1, err2, err3); err != nil {
		return nil, err
	}
	return []map[string]any{{"result": s.store.Vote(phone, int(candidate), maxVotes)}}, nil
}

func arity(params []any, n int) error {
	if len(params) != n {
		return fmt.Errorf("expected %d parameters, got %d", n, len(params))
	}
	return nil
}

func asString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string parameter, got %T", v)
	}
	return s, nil
}

// asInt accepts JSON numbers, which decode as float64.
func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected integer parameter, got %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected integer parameter, got %T", v)
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
