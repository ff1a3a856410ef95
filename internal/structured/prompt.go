package structured

import (
	"fmt"
	"strings"

	"ragchat/internal/ai"
)

const sqlRules = `Rules:
- Write exactly one read-only SQL statement (SELECT or WITH). Never modify data.
- Use only tables and columns that exist in the schema.
- Add LIMIT 100 unless the question asks for an aggregate.
- Use COUNT, SUM, AVG, MIN, MAX for aggregate questions so the answer is a single value.
- Reply with the SQL only, no explanation.`

const mongoRules = `Rules:
- Reply with one JSON object only, no explanation:
  {"collection": "<name>", "filter": {...}, "projection": {...}, "sort": {"field": 1}, "limit": 20, "count": false}
- Use "count": true when the question asks how many documents match.
- Use MongoDB query operators ($eq, $gt, $lt, $in, $regex) inside "filter".
- Never use write operations or aggregation stages.`

const frameRules = `Rules:
- Reply with exactly one line of the form: result = <expression>
- Frames are lists of rows: dfs["<name>"]. A row field is read as .Column or ["Column Name"].
- Operators: == != < <= > >= and or not in contains startsWith endsWith matches + - * / %
- Builtins: filter(list, predicate), map(list, expr), count(list, predicate), len(list), all, any, none, one
- Helpers: column(rows, "col"), distinct(rows, "col"), valueCounts(rows, "col"), sumOf(rows, "col"),
  meanOf(rows, "col"), minOf(rows, "col"), maxOf(rows, "col"), groupSum(rows, "key", "value"),
  head(list, n), sortByCol(rows, "col", descending), lowerText(value)
- No imports, no file access, no other statements.
Examples:
result = len(filter(dfs["sales_Sheet1"], .Country == "France"))
result = sumOf(filter(dfs["sales_Sheet1"], .Year == 2023), "Amount")
result = head(sortByCol(dfs["sales_Sheet1"], "Amount", true), 5)`

func rulesFor(src Source) string {
	switch src.Kind() {
	case KindMongo:
		return mongoRules
	case KindFrames:
		return frameRules
	default:
		return sqlRules + "\n- Target dialect: " + src.Kind() + "."
	}
}

// queryPrompt builds the messages of one query-generation attempt.
func queryPrompt(src Source, req Request, prevErr, inspection string) []ai.ChatMessage {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You translate questions into %s queries against the data source described below.\n\n", src.Language())
	if strings.TrimSpace(req.Schema) != "" {
		sys.WriteString("Schema analysis:\n")
		sys.WriteString(strings.TrimSpace(req.Schema))
		sys.WriteString("\n\n")
	}
	if o, ok := src.(Outliner); ok {
		sys.WriteString(o.Outline())
		sys.WriteString("\n\n")
	}
	sys.WriteString(rulesFor(src))

	msgs := []ai.ChatMessage{{Role: ai.RoleSystem, Content: sys.String()}}
	msgs = append(msgs, req.History...)

	var user strings.Builder
	user.WriteString("Question: ")
	user.WriteString(req.Question)
	if prevErr != "" {
		user.WriteString("\n\nThe previous query failed with this error:\n")
		user.WriteString(prevErr)
		user.WriteString("\nWrite a corrected query.")
	}
	if inspection != "" {
		user.WriteString("\n\nValues actually present in the data:\n")
		user.WriteString(inspection)
		user.WriteString("\nMatch these values exactly (spelling and case).")
	}
	msgs = append(msgs, ai.ChatMessage{Role: ai.RoleUser, Content: user.String()})
	return msgs
}

// StripCodeFence removes a surrounding ``` block and a leading label such
// as "SQL:" from a model reply.
func StripCodeFence(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			first := strings.TrimSpace(s[:nl])
			if !strings.ContainsAny(first, " =(") {
				s = s[nl+1:]
			}
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if start := strings.Index(s, "```"); start >= 0 {
		return StripCodeFence(s[start:])
	}
	s = strings.TrimSpace(s)
	for _, label := range []string{"SQL:", "Query:", "Code:"} {
		if len(s) >= len(label) && strings.EqualFold(s[:len(label)], label) {
			s = strings.TrimSpace(s[len(label):])
		}
	}
	return s
}
