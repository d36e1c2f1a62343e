package check

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/session"
)

const gameBody = `{
	"id": "g-7",
	"name": "chess",
	"round": 3,
	"players": ["ann", "bob"],
	"empty": [],
	"winner": null,
	"meta": {"ranked": true}
}`

func gameResponse(status int) *httpext.Response {
	return httpext.NewResponse(status, http.Header{"Content-Type": []string{"application/json"}}, []byte(gameBody))
}

func TestStatusChecks(t *testing.T) {
	t.Parallel()

	res := gameResponse(http.StatusCreated)
	testCases := []struct {
		check  Check
		passed bool
		reason string
	}{
		{StatusIs(201), true, ""},
		{StatusIs(200), false, "status.find.is(200), but actually found 201"},
		{StatusIn(200, 201, 204), true, ""},
		{StatusIn(200, 204), false, "status.find.in(200, 204), but actually found 201"},
		{StatusNot(404), true, ""},
		{StatusNot(201), false, "status.find.not(201), but actually unexpectedly found 201"},
	}
	for _, tc := range testCases {
		r := tc.check.Evaluate(res, session.Session{})
		assert.Equal(t, tc.passed, r.Passed, r.Check)
		assert.Equal(t, tc.reason, r.Reason, r.Check)
	}
}

func TestFailedStatusCheckDoesNotExtract(t *testing.T) {
	t.Parallel()

	res := httpext.NewResponse(http.StatusUnauthorized, nil, []byte(`{"token":"leaked"}`))
	sess := session.New(map[string]interface{}{"user": "ann"})

	checks := []Check{
		StatusIs(200).SaveAs("status"),
		Equals(MustJMESPath("token"), "nope").SaveAs("token"),
	}
	next, results, err := EvaluateAll(res, sess, checks)
	var ferr *FailureError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "status.find.is(200).saveAs(status)", ferr.Check)
	assert.False(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.False(t, next.Has("status"))
	assert.False(t, next.Has("token"))
	assert.Equal(t, sess.ToMap(), next.ToMap())
}

func TestExtraction(t *testing.T) {
	t.Parallel()

	res := gameResponse(http.StatusOK)
	sess := session.New(map[string]interface{}{"expectedName": "chess"})

	checks := []Check{
		StatusIs(200),
		Find(MustJMESPath("id")).SaveAs("gameId"),
		Find(MustGJSON("players")).SaveAs("players"),
		Equals(MustGJSON("name"), "#{expectedName}"),
		BodyString().SaveAs("raw"),
	}
	next, results, err := EvaluateAll(res, sess, checks)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Passed, r.Check)
	}

	id, err := next.GetString("gameId")
	require.NoError(t, err)
	assert.Equal(t, "g-7", id)
	players, err := next.GetList("players")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"ann", "bob"}, players)
	raw, _ := next.GetString("raw")
	assert.Equal(t, gameBody, raw)
	assert.False(t, sess.Has("gameId"))
}

func TestExtractionKeepsLargeIntegers(t *testing.T) {
	t.Parallel()

	res := httpext.NewResponse(http.StatusOK, nil, []byte(`{"id": 1234567890123456789, "ids": [1234567890123456789]}`))
	for _, q := range []Query{MustGJSON("id"), MustJMESPath("id")} {
		next, _, err := EvaluateAll(res, session.Session{}, []Check{
			Find(q).SaveAs("gameId"),
			Equals(q, int64(1234567890123456789)),
			Equals(q, "1234567890123456789"),
		})
		require.NoError(t, err, q.String())

		url, err := next.Resolve("/api/games/#{gameId}")
		require.NoError(t, err)
		assert.Equal(t, "/api/games/1234567890123456789", url, q.String())
	}

	for _, q := range []Query{MustGJSON("ids"), MustJMESPath("ids")} {
		next, _, err := EvaluateAll(res, session.Session{}, []Check{Find(q).SaveAs("ids")})
		require.NoError(t, err)
		ids, err := next.Resolve("#{ids}")
		require.NoError(t, err)
		assert.Equal(t, "[1234567890123456789]", ids, q.String())
	}
}

func TestQueryChecks(t *testing.T) {
	t.Parallel()

	res := gameResponse(http.StatusOK)
	sess := session.New(map[string]interface{}{"gameId": "g-7", "firstPlayer": "ann"})

	for _, lang := range []Lang{GJSON, JMESPath} {
		q := func(expr string) Query {
			query, err := NewQuery(lang, expr)
			require.NoError(t, err)
			return query
		}
		testCases := []struct {
			check  Check
			passed bool
		}{
			{Exists(q("id")), true},
			{Exists(q("missing")), false},
			{Exists(q("winner")), false},
			{Exists(q("empty")), false},
			{Equals(q("id"), "#{gameId}"), true},
			{Equals(q("id"), "#{unknown}"), false},
			{Equals(q("round"), 3), true},
			{Equals(q("round"), 3.0), true},
			{Equals(q("round"), "3"), true},
			{Equals(q("round"), 4), false},
			{Equals(q("meta.ranked"), true), true},
			{ListEquals(q("players"), []interface{}{"ann", "bob"}), true},
			{ListEquals(q("players"), []interface{}{"bob", "ann"}), false},
			{ListEquals(q("empty"), nil), true},
			{Satisfies(q("players"), "contains first player", func(v interface{}, s session.Session) bool {
				first, _ := s.GetString("firstPlayer")
				l, ok := v.([]interface{})
				return ok && len(l) > 0 && l[0] == first
			}), true},
			{Satisfies(q("round"), "is even", func(v interface{}, _ session.Session) bool {
				return int(v.(float64))%2 == 0
			}), false},
		}
		for _, tc := range testCases {
			r := tc.check.Evaluate(res, sess)
			assert.Equal(t, tc.passed, r.Passed, "%s: %s", r.Check, r.Reason)
		}
	}
}

func TestBodyAndHeaderChecks(t *testing.T) {
	t.Parallel()

	res := httpext.NewResponse(http.StatusOK, http.Header{"X-Game-Id": []string{"g-1"}}, []byte("pong g-1"))
	sess := session.New(map[string]interface{}{"id": "g-1"})

	assert.True(t, BodyIs("pong #{id}").Evaluate(res, sess).Passed)
	assert.False(t, BodyIs("ping").Evaluate(res, sess).Passed)
	assert.True(t, HeaderExists("x-game-id").Evaluate(res, sess).Passed)
	assert.False(t, HeaderExists("x-other").Evaluate(res, sess).Passed)
	assert.True(t, HeaderIs("X-Game-Id", "#{id}").Evaluate(res, sess).Passed)

	r := HeaderIs("X-Other", "x").Evaluate(res, sess)
	assert.False(t, r.Passed)
	assert.Equal(t, "header(X-Other).find.is(x), but actually found nothing", r.Reason)
}

func TestQueryOnInvalidJSON(t *testing.T) {
	t.Parallel()

	res := httpext.NewResponse(http.StatusOK, nil, []byte("<html></html>"))
	r := Exists(MustJMESPath("id")).Evaluate(res, session.Session{})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "cannot parse json")

	r = Exists(MustGJSON("id")).Evaluate(res, session.Session{})
	assert.False(t, r.Passed)
}

func TestNewQuery(t *testing.T) {
	t.Parallel()

	_, err := NewQuery(JMESPath, "foo[")
	assert.Error(t, err)
	_, err = NewQuery(GJSON, " ")
	assert.Error(t, err)
	_, err = NewQuery(Lang(9), "a")
	assert.Error(t, err)
	assert.Panics(t, func() { MustJMESPath("[[") })

	lang, err := ParseLang("JMESPath")
	require.NoError(t, err)
	assert.Equal(t, JMESPath, lang)
	_, err = ParseLang("xpath")
	assert.Error(t, err)

	assert.Equal(t, `jmesPath("a.b")`, MustJMESPath("a.b").String())
	assert.False(t, Check{}.Valid())
	assert.False(t, Check{}.Evaluate(gameResponse(200), session.Session{}).Passed)
}
