package stores

import "strings"

// SplitStatements splits a SQL script into statements on semicolons that
// are outside quotes and comments. Comments are dropped and blank
// statements are skipped.
//
// Lexing follows driver: MySQL treats a backslash inside a string as an
// escape and '#' as a line comment; SQLite treats both literally.
func SplitStatements(driver, script string) []Statement {
	mysql := driver != DriverSQLite

	var (
		stmts []Statement
		cur   strings.Builder
		quote byte
	)

	flush := func() {
		if sql := strings.TrimSpace(cur.String()); sql != "" {
			stmts = append(stmts, Statement{SQL: sql})
		}
		cur.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]

		if quote != 0 {
			cur.WriteByte(c)
			switch {
			case mysql && c == '\\' && quote != '`' && i+1 < len(script):
				i++
				cur.WriteByte(script[i])
			case c == quote && i+1 < len(script) && script[i+1] == quote:
				// Doubled quote is an escaped quote
				i++
				cur.WriteByte(script[i])
			case c == quote:
				quote = 0
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteByte(c)
		case c == '-' && strings.HasPrefix(script[i:], "--"), mysql && c == '#':
			nl := strings.IndexByte(script[i:], '\n')
			if nl < 0 {
				i = len(script)
			} else {
				i += nl
				cur.WriteByte('\n')
			}
		case c == '/' && strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				i = len(script)
			} else {
				i += end + 3
				cur.WriteByte(' ')
			}
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	return stmts
}
