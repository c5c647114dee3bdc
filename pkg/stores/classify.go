package stores

import (
	"strings"
	"unicode"
)

// Scope says whether a statement touches the identity table.
type Scope int

const (
	ScopeGeneral Scope = iota
	ScopeIdentity
)

func (s Scope) String() string {
	if s == ScopeIdentity {
		return "identity"
	}
	return "general"
}

// Access says whether a statement only reads.
type Access int

const (
	AccessWrite Access = iota
	AccessRead
)

func (a Access) String() string {
	if a == AccessRead {
		return "read"
	}
	return "write"
}

// Class is the routing classification of a statement or a batch. It is
// computed once at dispatch and carried through routing, retry and
// replication.
type Class struct {
	Scope  Scope
	Access Access
}

// Identity reports whether the class must be served by the local store.
func (c Class) Identity() bool { return c.Scope == ScopeIdentity }

// Read reports whether the class has no side effects to mirror.
func (c Class) Read() bool { return c.Access == AccessRead }

// Mirrored reports whether a successful external execution of this class
// is replicated to the local store.
func (c Class) Mirrored() bool { return !c.Read() && !c.Identity() }

func (c Class) String() string { return c.Scope.String() + "/" + c.Access.String() }

// readKeywords start statements that never change data.
var readKeywords = map[string]bool{
	"SELECT":   true,
	"SHOW":     true,
	"DESCRIBE": true,
	"DESC":     true,
	"EXPLAIN":  true,
	"VALUES":   true,
	"PRAGMA":   true,
}

// cteBodyKeywords can follow the CTE list of a WITH statement.
var cteBodyKeywords = map[string]bool{
	"SELECT":  true,
	"VALUES":  true,
	"INSERT":  true,
	"REPLACE": true,
	"UPDATE":  true,
	"DELETE":  true,
}

// Classifier classifies statements against one identity table name.
type Classifier struct {
	identityTable string
}

// NewClassifier returns a classifier for the given identity table. An
// empty name defaults to "users".
func NewClassifier(identityTable string) Classifier {
	identityTable = strings.ToLower(strings.TrimSpace(identityTable))
	if identityTable == "" {
		identityTable = "users"
	}
	return Classifier{identityTable: identityTable}
}

// Classify classifies one SQL text. Identity is a case-insensitive
// substring match on the table name; read is decided by the leading keyword.
func (c Classifier) Classify(query string) Class {
	class := Class{Scope: ScopeGeneral, Access: AccessWrite}
	if strings.Contains(strings.ToLower(query), c.identityTable) {
		class.Scope = ScopeIdentity
	}
	kw := leadingKeyword(query)
	if kw == "WITH" {
		kw = cteBodyKeyword(query)
	}
	if readKeywords[kw] {
		class.Access = AccessRead
	}
	return class
}

// ClassifyBatch folds the classes of a transaction: identity if any
// statement is identity, read only if every statement reads.
func (c Classifier) ClassifyBatch(stmts []Statement) Class {
	class := Class{Scope: ScopeGeneral, Access: AccessRead}
	for _, s := range stmts {
		sc := c.Classify(s.SQL)
		if sc.Identity() {
			class.Scope = ScopeIdentity
		}
		if !sc.Read() {
			class.Access = AccessWrite
		}
	}
	if len(stmts) == 0 {
		class.Access = AccessWrite
	}
	return class
}

// leadingKeyword returns the first keyword of query in upper case,
// skipping whitespace, opening parentheses and SQL comments.
func leadingKeyword(query string) string {
	s := query
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool {
			return unicode.IsSpace(r) || r == '('
		})
		switch {
		case strings.HasPrefix(s, "--") || strings.HasPrefix(s, "#"):
			nl := strings.IndexByte(s, '\n')
			if nl < 0 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s, "*/")
			if end < 0 {
				return ""
			}
			s = s[end+2:]
		default:
			end := strings.IndexFunc(s, func(r rune) bool {
				return !unicode.IsLetter(r)
			})
			if end < 0 {
				end = len(s)
			}
			return strings.ToUpper(s[:end])
		}
	}
}

// cteBodyKeyword returns the statement keyword that follows the CTE list
// of a WITH query. CTE bodies are parenthesized, so it is the first body
// keyword found outside parentheses and quotes.
func cteBodyKeyword(query string) string {
	depth := 0
	var quote rune
	word := strings.Builder{}

	flush := func() string {
		w := strings.ToUpper(word.String())
		word.Reset()
		if depth == 0 && cteBodyKeywords[w] {
			return w
		}
		return ""
	}

	for _, r := range query {
		if quote != 0 {
			if r == quote {
				quote = 0
			}
			continue
		}
		if unicode.IsLetter(r) || r == '_' {
			word.WriteRune(r)
			continue
		}
		if kw := flush(); kw != "" {
			return kw
		}
		switch r {
		case '\'', '"', '`':
			quote = r
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		}
	}
	return flush()
}
