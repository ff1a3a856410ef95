package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"ragchat/internal/ai"
	"ragchat/internal/config"
	"ragchat/internal/model"
	"ragchat/internal/pkg/cryptobox"
	"ragchat/internal/platform/logger"
	"ragchat/internal/repository"
	"ragchat/internal/structured"
)

var tracer = otel.Tracer("ragchat/app")

var (
	ErrPayloadInvalid  = errors.New("invalid payload")
	ErrMessageNotFound = errors.New("message not found")
)

const emptyAnswer = "The model returned an empty response."

type ConversationDeps struct {
	Threads   *repository.ThreadRepository
	Users     *repository.UserRepository
	Messages  *repository.MessageRepository
	History   *ThreadService
	Retriever *Retriever
	Engine    *structured.Engine
	Open      SourceOpener
	Model     ai.ChatModel
	Cipher    cryptobox.Cipher
	Cache     HistoryCache
	Pipeline  config.PipelineConfig
	Log       *logger.Logger
}

// ConversationService opens per-connection sessions. It holds no
// per-conversation state itself.
type ConversationService struct {
	deps      ConversationDeps
	streamer  *ai.Streamer
	assembler *ContextAssembler
	timeout   time.Duration
	log       *logger.Logger
}

func NewConversationService(deps ConversationDeps) *ConversationService {
	if deps.Open == nil {
		deps.Open = structured.Open
	}
	if deps.Cipher == nil {
		deps.Cipher = cryptobox.Plain{}
	}
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}
	timeout := time.Duration(deps.Pipeline.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ConversationService{
		deps:      deps,
		streamer:  ai.NewStreamer(deps.Model, 0),
		assembler: NewContextAssembler(deps.Pipeline),
		timeout:   timeout,
		log:       deps.Log,
	}
}

// binding is the grounding source resolved at setup.
type binding struct {
	mode   string
	loc    string
	source structured.Source
	schema string
	err    error
}

// Session is the state of one connection. Handle must not be called
// concurrently.
type Session struct {
	svc      *ConversationService
	thread   *model.Thread
	username string
	history  []ai.ChatMessage
	binding  binding
	key      []byte
	haveKey  bool
	log      *logger.Logger
}

// Open resolves the thread, loads its recent history and binds the
// grounding source. A bind failure is kept on the session, not returned.
func (s *ConversationService) Open(ctx context.Context, threadID, userID uint) (*Session, error) {
	ctx, span := tracer.Start(ctx, "app.OpenSession")
	defer span.End()

	if threadID == 0 || userID == 0 {
		return nil, ErrInvalidInput
	}
	thread, err := s.deps.Threads.GetByIDAndUserID(ctx, threadID, userID)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, ErrThreadNotFound
	}
	username := ""
	if s.deps.Users != nil {
		user, err := s.deps.Users.GetByID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user != nil {
			username = user.Username
		}
	}
	history, err := s.deps.History.LoadHistory(ctx, thread.ID, s.deps.Pipeline.HistorySize)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		svc:      s,
		thread:   thread,
		username: username,
		history:  history,
		log:      s.log.With("thread_id", thread.ID, "user_id", userID),
	}
	sess.binding = s.bind(ctx, thread)
	if sess.binding.err != nil {
		sess.log.Warn("grounding source unavailable", "mode", sess.binding.mode, "err", sess.binding.err)
	}
	span.SetAttributes(attribute.String("binding.mode", sess.binding.mode))
	return sess, nil
}

func (s *ConversationService) bind(ctx context.Context, thread *model.Thread) binding {
	if c := thread.BaseCollection; c != nil {
		if c.IsStructured() {
			src, err := s.deps.Open(ctx, c, structured.Options{MaxRows: s.deps.Pipeline.MaxRows, Log: s.log})
			return binding{mode: c.CollectionType, source: src, schema: c.SchemaAnalysis, err: err}
		}
		return s.bindLoc(ctx, c.Loc)
	}
	if thread.Loc == "" {
		return binding{}
	}
	return s.bindLoc(ctx, thread.Loc)
}

func (s *ConversationService) bindLoc(ctx context.Context, loc string) binding {
	b := binding{mode: ChatRAG, loc: loc}
	if loc == "" {
		b.err = ErrStoreUnavailable
		return b
	}
	if s.deps.Retriever == nil {
		b.err = ErrStoreUnavailable
		return b
	}
	b.err = s.deps.Retriever.Available(ctx, loc)
	return b
}

// BindErr reports why the grounding source could not be bound.
func (s *Session) BindErr() error { return s.binding.err }

func (s *Session) Close() error {
	if s.binding.source != nil {
		return s.binding.source.Close()
	}
	return nil
}

// Handle processes one inbound frame. Frames are emitted in order; the
// returned error is the first emit failure, after which the turn still
// completes and is persisted.
func (s *Session) Handle(ctx context.Context, raw []byte, emit func(Outbound) error) error {
	out := &emitter{emit: emit, cipher: s.svc.deps.Cipher, username: s.username}
	in, err := parseInbound(raw)
	if err != nil {
		out.send(errorFrame("%v", err))
		return out.err
	}
	switch in.Mode {
	case ModeTranslation:
		s.handleTranslation(ctx, in, out)
	case ModeContext:
		s.handleContext(ctx, in, out)
	default:
		s.handleChat(ctx, in, out)
	}
	return out.err
}

func (s *Session) openKey(wrapped string) ([]byte, error) {
	if wrapped == "" && s.haveKey {
		return s.key, nil
	}
	key, err := s.svc.deps.Cipher.OpenKey(wrapped)
	if err != nil {
		return nil, err
	}
	s.key, s.haveKey = key, true
	return key, nil
}

// turn is the grounding decided for one chat message. A non-empty direct
// answer is sent without calling the model.
type turn struct {
	mode      string
	grounding Grounding
	sources   model.SourceMap
	direct    string
	grounded  bool
}

func (s *Session) handleChat(ctx context.Context, in Inbound, out *emitter) {
	key, err := s.openKey(in.EncryptedAESKey)
	if err != nil {
		out.send(errorFrame("invalid encrypted_aes_key"))
		return
	}
	out.key = key
	text, err := s.svc.deps.Cipher.Decrypt(key, in.EncryptedMessage)
	if err != nil {
		out.send(errorFrame("invalid encrypted_message"))
		return
	}
	text = strings.TrimSpace(StripControl(text))
	if text == "" {
		out.send(errorFrame("message is empty"))
		return
	}

	// the turn outlives the connection so the answer is always persisted
	turnCtx := context.WithoutCancel(ctx)
	turnCtx, span := tracer.Start(turnCtx, "app.Turn", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	if err := s.persist(turnCtx, &model.Message{Role: model.RoleUser, Content: text}); err != nil {
		s.log.Error("persist user message failed", "err", err)
	}

	p := s.svc.deps.Pipeline
	mode := in.requestedChatMode()
	if mode == "" {
		mode = s.binding.mode
	}
	if mode == "" {
		mode = ChatStandard
	}
	maxTokens := 0
	if IsGreeting(text) {
		mode, maxTokens = ChatStandard, p.GreetingMaxTokens
	}
	span.SetAttributes(attribute.String("chat.mode", mode))

	t := s.ground(turnCtx, mode, in, text)
	var answer string
	if t.direct != "" {
		answer = t.direct
		out.chunk(answer)
	} else {
		msgs := s.svc.assembler.Build(s.history, t.grounding, text)
		answer = s.generate(turnCtx, msgs, s.svc.assembler.Options(in.Temperature, maxTokens), out)
	}

	reply := &model.Message{Role: model.RoleAssistant, Content: answer, RAGResponse: t.grounded}
	if len(t.sources) > 0 {
		raw, err := json.Marshal(t.sources)
		if err == nil {
			reply.SourceNodes = datatypes.JSON(raw)
		}
	}
	if err := s.persist(turnCtx, reply); err != nil {
		s.log.Error("persist answer failed", "err", err)
		out.send(errorFrame("the answer could not be saved"))
	} else {
		out.send(Outbound{Mode: OutLast, MessageID: reply.ID})
	}

	s.history = append(s.history,
		ai.ChatMessage{Role: ai.RoleUser, Content: text},
		ai.ChatMessage{Role: ai.RoleAssistant, Content: answer},
	)
	s.history = lastExchanges(s.history, p.HistorySize)
}

func (s *Session) ground(ctx context.Context, mode string, in Inbound, text string) turn {
	p := s.svc.deps.Pipeline
	switch mode {
	case ChatRAG:
		return s.groundRAG(ctx, in, text)
	case ChatDatabase, ChatExcel:
		src := s.binding.source
		if src == nil || s.binding.err != nil || s.svc.deps.Engine == nil {
			return turn{mode: mode, direct: p.Prompts.Unavailable}
		}
		outcome := s.svc.deps.Engine.Answer(ctx, src, structured.Request{
			Question: text,
			Schema:   s.binding.schema,
			History:  lastExchanges(s.history, p.QueryHistoryExchanges),
		})
		var sources model.SourceMap
		if outcome.Query != "" {
			sources.Add("Query", outcome.Query)
		}
		sources.Add("Result", outcome.Context)
		return turn{mode: mode, grounding: Grounding{Structured: true, Text: outcome.Context}, sources: sources, grounded: true}
	default:
		return turn{mode: ChatStandard}
	}
}

func (s *Session) groundRAG(ctx context.Context, in Inbound, text string) turn {
	p := s.svc.deps.Pipeline
	if s.binding.loc == "" || s.svc.deps.Retriever == nil {
		return turn{mode: ChatRAG, direct: p.Prompts.Unavailable}
	}
	cutoff := p.DefaultCutoff
	if in.SimilarityCutoff != nil && *in.SimilarityCutoff > 0 {
		cutoff = *in.SimilarityCutoff
	}

	query := text
	if p.TranslateQueries {
		if lang := DetectLanguage(text); lang != "" && lang != p.RetrievalLanguage {
			if translated, err := s.translate(ctx, text, p.RetrievalLanguage); err == nil && translated != "" {
				query = translated
			} else if err != nil {
				s.log.Warn("query translation failed", "err", err)
			}
		}
	}

	r, err := s.svc.deps.Retriever.Retrieve(ctx, RetrievalRequest{
		Loc:    s.binding.loc,
		Query:  query,
		Cutoff: cutoff,
		Rerank: in.Rerank,
	})
	if err != nil {
		s.log.Warn("retrieval failed", "err", err)
		return turn{mode: ChatRAG, direct: p.Prompts.Unavailable}
	}
	if len(r.Hits) == 0 {
		return turn{mode: ChatRAG, direct: p.Prompts.NoAnswer}
	}
	return turn{mode: ChatRAG, grounding: Grounding{Text: r.Context}, sources: r.Sources, grounded: true}
}

// generate streams the answer to out and returns the full text. Upstream
// failure or timeout keeps whatever was produced.
func (s *Session) generate(ctx context.Context, msgs []ai.ChatMessage, opts ai.GenerationOptions, out *emitter) string {
	ctx, cancel := context.WithTimeout(ctx, s.svc.timeout)
	defer cancel()

	var b strings.Builder
	for c := range s.svc.streamer.Stream(ctx, msgs, opts) {
		if c.Err != nil {
			s.log.Warn("generation ended early", "err", c.Err, "chars", b.Len())
			continue
		}
		b.WriteString(c.Text)
		out.chunk(c.Text)
	}
	answer := b.String()
	if strings.TrimSpace(answer) == "" {
		answer = emptyAnswer
		out.chunk(answer)
	}
	return answer
}

func (s *Session) translate(ctx context.Context, text, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.svc.timeout)
	defer cancel()
	msgs := []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: fmt.Sprintf(s.svc.deps.Pipeline.Prompts.Translation, target)},
		{Role: ai.RoleUser, Content: text},
	}
	reply, err := s.svc.deps.Model.Complete(ctx, msgs, ai.GenerationOptions{Temperature: 0.2, MaxTokens: 1024, TopP: 1})
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	return strings.TrimSpace(ai.CleanText(reply, nil)), nil
}

func (s *Session) storedMessage(ctx context.Context, id uint) (*model.Message, error) {
	msg, err := s.svc.deps.Messages.GetByIDAndThreadID(ctx, id, s.thread.ID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrMessageNotFound
	}
	return msg, nil
}

func (s *Session) handleTranslation(ctx context.Context, in Inbound, out *emitter) {
	key, err := s.openKey(in.EncryptedAESKey)
	if err != nil {
		out.send(errorFrame("invalid encrypted_aes_key"))
		return
	}
	msg, err := s.storedMessage(ctx, in.MessageID)
	if err != nil {
		out.send(errorFrame("%v", err))
		return
	}
	translated, err := s.translate(ctx, msg.Content, s.svc.deps.Pipeline.TranslationTarget)
	if err != nil {
		s.log.Warn("translate message failed", "message_id", msg.ID, "err", err)
		out.send(errorFrame("translation failed"))
		return
	}
	enc, err := s.svc.deps.Cipher.Encrypt(key, translated)
	if err != nil {
		out.send(errorFrame("encrypt translation failed"))
		return
	}
	out.send(Outbound{Mode: OutTranslation, EncryptedTranslation: enc, MessageID: msg.ID})
}

func (s *Session) handleContext(ctx context.Context, in Inbound, out *emitter) {
	key, err := s.openKey(in.EncryptedAESKey)
	if err != nil {
		out.send(errorFrame("invalid encrypted_aes_key"))
		return
	}
	msg, err := s.storedMessage(ctx, in.MessageID)
	if err != nil {
		out.send(errorFrame("%v", err))
		return
	}
	var sources model.SourceMap
	if len(msg.SourceNodes) > 0 {
		if err := json.Unmarshal(msg.SourceNodes, &sources); err != nil {
			out.send(errorFrame("stored sources are unreadable"))
			return
		}
	}
	encrypted := make(map[string]string, len(sources))
	for _, e := range sources {
		k, err := s.svc.deps.Cipher.Encrypt(key, e.Label)
		if err != nil {
			out.send(errorFrame("encrypt sources failed"))
			return
		}
		v, err := s.svc.deps.Cipher.Encrypt(key, e.Text)
		if err != nil {
			out.send(errorFrame("encrypt sources failed"))
			return
		}
		encrypted[k] = v
	}
	out.send(Outbound{Mode: OutContext, MessageID: msg.ID, EncryptedContexts: encrypted})
}

func (s *Session) persist(ctx context.Context, msg *model.Message) error {
	msg.ThreadID = s.thread.ID
	msg.UserID = s.thread.UserID
	if err := s.svc.deps.Messages.Create(ctx, msg); err != nil {
		return err
	}
	if c := s.svc.deps.Cache; c != nil {
		if err := c.Invalidate(ctx, s.thread.ID); err != nil {
			s.log.Warn("invalidate history cache failed", "err", err)
		}
	}
	return nil
}

// emitter encrypts chunks and numbers them new/continue. After the first
// failed write it drops further frames.
type emitter struct {
	emit     func(Outbound) error
	cipher   cryptobox.Cipher
	key      []byte
	username string
	started  bool
	err      error
}

func (e *emitter) chunk(text string) {
	if text == "" {
		return
	}
	enc, err := e.cipher.Encrypt(e.key, text)
	if err != nil {
		if e.err == nil {
			e.err = err
		}
		return
	}
	mode := OutContinue
	if !e.started {
		mode, e.started = OutNew, true
	}
	e.send(Outbound{Mode: mode, Message: enc, Username: e.username})
}

func (e *emitter) send(o Outbound) {
	if e.err != nil {
		return
	}
	e.err = e.emit(o)
}
