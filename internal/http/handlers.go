package http

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/pollbox/pollbox/internal/models"
	"github.com/pollbox/pollbox/internal/polls"
	"github.com/pollbox/pollbox/internal/ws"
)

// --- Configuration Constants ---
const (
	rateLimitRPS   = 1.0 / 3.0 // 1 vote every 3 seconds per IP
	rateLimitBurst = 1

	flashCookie = "pollbox_flash"
)

// --- Rate Limiter ---
type IPRateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.RWMutex
	rps      rate.Limit
	burst    int
}

func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		visitors: make(map[string]*rate.Limiter),
		rps:      r,
		burst:    b,
	}
}

func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, exists := rl.visitors[ip]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[ip] = limiter
	}
	return limiter
}

func RateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please wait."})
			return
		}
		c.Next()
	}
}

// --- Handlers ---
type Env struct {
	Polls *polls.Service
	Hub   *ws.Hub
}

// Index lists the visible questions, oldest first.
func (e *Env) Index(c *gin.Context) {
	questions, err := e.Polls.ListVisibleQuestions(time.Now())
	if err != nil {
		log.Printf("Error listing questions: %v", err)
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Message": "Failed to load polls"})
		return
	}
	c.HTML(http.StatusOK, "index.html", gin.H{"QuestionList": questions})
}

// Detail shows one question's voting form.
func (e *Env) Detail(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	question, err := e.Polls.GetVisibleQuestion(id, time.Now())
	if err != nil {
		e.renderLookupError(c, err)
		return
	}
	c.HTML(http.StatusOK, "detail.html", gin.H{"Question": question})
}

// Results shows the per-choice tallies for a published question, plus the
// pass/fail flash left by a just-submitted vote.
func (e *Env) Results(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	question, err := e.Polls.GetVisibleQuestion(id, time.Now())
	if err != nil {
		e.renderLookupError(c, err)
		return
	}
	tallies, err := e.Polls.ChoiceTallies(id)
	if err != nil {
		log.Printf("Error computing tallies for question %d: %v", id, err)
		c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Message": "Failed to load results"})
		return
	}

	kind, message := takeFlash(c)
	c.HTML(http.StatusOK, "results.html", gin.H{
		"Question":     question,
		"Tallies":      tallies,
		"FlashKind":    kind,
		"FlashMessage": message,
	})
}

// Vote records a vote and redirects to the results page so a refresh cannot
// resubmit the form.
func (e *Env) Vote(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}

	input := polls.VoteInput{
		Signature: c.PostForm("signature"),
		Date:      c.PostForm("date"),
	}
	if raw := c.PostForm("choice"); raw != "" {
		// A bad choice id falls through as zero and fails validation
		// the same way a missing one does.
		choiceID, err := strconv.ParseUint(raw, 10, 32)
		if err == nil {
			input.ChoiceID = uint(choiceID)
		}
	}

	outcome, err := e.Polls.CastVote(id, input)
	if err != nil {
		var validationErr *polls.ValidationError
		if errors.As(err, &validationErr) {
			// Redisplay the voting form with the message. The vote
			// path is not gated on pub_date, so look the question
			// up without gating here too.
			question, lookupErr := e.Polls.GetQuestion(id)
			if lookupErr != nil {
				e.renderLookupError(c, lookupErr)
				return
			}
			c.HTML(http.StatusOK, "detail.html", gin.H{
				"Question":     question,
				"ErrorMessage": validationErr.Message,
			})
			return
		}
		e.renderLookupError(c, err)
		return
	}

	if outcome.Correct == models.Correct {
		setFlash(c, "success", fmt.Sprintf("%q is correct!", outcome.Choice.Text))
	} else {
		setFlash(c, "error", fmt.Sprintf("%q is not correct.", outcome.Choice.Text))
	}

	e.broadcastTallies(id)

	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/polls/%d/results", id))
}

// Report shows aggregate statistics for a question. A question with zero
// votes has no most-recent vote, which surfaces as a 404.
func (e *Env) Report(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	report, err := e.Polls.BuildReport(id)
	if err != nil {
		e.renderLookupError(c, err)
		return
	}
	c.HTML(http.StatusOK, "report.html", gin.H{"Report": report})
}

// ServeResultsFeed upgrades to a websocket carrying live tally updates for
// one question.
func (e *Env) ServeResultsFeed(c *gin.Context) {
	id, ok := questionID(c)
	if !ok {
		return
	}
	ws.ServeWs(e.Hub, id, c.Writer, c.Request)
}

// broadcastTallies pushes the question's current tallies to its results-page
// watchers. Failures only cost the live update; the vote is already stored.
func (e *Env) broadcastTallies(questionID uint) {
	tallies, err := e.Polls.ChoiceTallies(questionID)
	if err != nil {
		log.Printf("Error computing tallies for broadcast: %v", err)
		return
	}
	e.Hub.BroadcastToQuestion(questionID, "tally", gin.H{
		"question_id": questionID,
		"tallies":     tallies,
	})
}

// questionID parses the :id route parameter, rendering a 404 page on junk.
func questionID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		renderNotFound(c)
		return 0, false
	}
	return uint(id), true
}

func (e *Env) renderLookupError(c *gin.Context, err error) {
	if errors.Is(err, polls.ErrNotFound) {
		renderNotFound(c)
		return
	}
	log.Printf("Storage error: %v", err)
	c.HTML(http.StatusInternalServerError, "error.html", gin.H{"Message": "Something went wrong"})
}

func renderNotFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "404.html", nil)
}

// setFlash stores a one-shot notice for the next page load.
func setFlash(c *gin.Context, kind, message string) {
	value := url.QueryEscape(kind + "|" + message)
	c.SetCookie(flashCookie, value, 60, "/", "", false, true)
}

// takeFlash reads and clears the flash cookie.
func takeFlash(c *gin.Context) (kind, message string) {
	raw, err := c.Cookie(flashCookie)
	if err != nil {
		return "", ""
	}
	c.SetCookie(flashCookie, "", -1, "/", "", false, true)
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return "", ""
	}
	kind, message, found := strings.Cut(decoded, "|")
	if !found {
		return "", ""
	}
	return kind, message
}
