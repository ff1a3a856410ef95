package config

// PipelineConfig is built once at startup and passed read-only into every
// conversation. Per-turn adjustments are made on copies.
type PipelineConfig struct {
	HistorySize           int    `toml:"history_size"`
	RAGHistoryExchanges   int    `toml:"rag_history_exchanges"`
	QueryHistoryExchanges int    `toml:"query_history_exchanges"`
	TimeoutSeconds        int    `toml:"timeout_seconds"`
	MaxRetries            int    `toml:"max_retries"`
	MaxRows               int    `toml:"max_rows"`
	DisplayRows           int    `toml:"display_rows"`
	KeywordExtraction     bool   `toml:"keyword_extraction"`
	TranslateQueries      bool   `toml:"translate_queries"`
	TranslationTarget     string `toml:"translation_target"`
	RetrievalLanguage     string `toml:"retrieval_language"`
	GreetingMaxTokens     int    `toml:"greeting_max_tokens"`

	DefaultCutoff float64           `toml:"default_cutoff"`
	Policies      []RetrievalPolicy `toml:"policies"`

	Generation GenerationConfig `toml:"generation"`
	Prompts    PromptConfig     `toml:"prompts"`
}

// RetrievalPolicy is one tier of the retrieval fallback chain. FromRequest
// uses the client-supplied cutoff; otherwise Cutoff is used as is.
type RetrievalPolicy struct {
	TopK        int     `toml:"top_k"`
	Cutoff      float64 `toml:"cutoff"`
	FromRequest bool    `toml:"from_request"`
	UseKeywords bool    `toml:"use_keywords"`
}

// EffectiveCutoff resolves the cutoff for a request.
func (p RetrievalPolicy) EffectiveCutoff(requested float64) float64 {
	if p.FromRequest {
		return requested
	}
	return p.Cutoff
}

type GenerationConfig struct {
	Temperature     float64  `toml:"temperature"`
	MaxTokens       int      `toml:"max_tokens"`
	TopP            float64  `toml:"top_p"`
	PresencePenalty float64  `toml:"presence_penalty"`
	Stop            []string `toml:"stop"`
	MinTemperature  float64  `toml:"min_temperature"`
	MaxTemperature  float64  `toml:"max_temperature"`
}

type PromptConfig struct {
	System           string `toml:"system"`
	StructuredSystem string `toml:"structured_system"`
	GroundingPrefix  string `toml:"grounding_prefix"`
	StructuredPrefix string `toml:"structured_prefix"`
	KeywordExtractor string `toml:"keyword_extractor"`
	NoAnswer         string `toml:"no_answer"`
	Unavailable      string `toml:"unavailable"`
	Translation      string `toml:"translation"`
}

func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		HistorySize:           3,
		RAGHistoryExchanges:   3,
		QueryHistoryExchanges: 2,
		TimeoutSeconds:        60,
		MaxRetries:            3,
		MaxRows:               100,
		DisplayRows:           50,
		KeywordExtraction:     true,
		TranslateQueries:      false,
		TranslationTarget:     "Persian",
		RetrievalLanguage:     "English",
		GreetingMaxTokens:     64,
		DefaultCutoff:         0.3,
		Policies: []RetrievalPolicy{
			{TopK: 3, FromRequest: true, UseKeywords: true},
			{TopK: 2, FromRequest: true},
			{TopK: 5, Cutoff: 0.01},
		},
		Generation: GenerationConfig{
			Temperature:     0.7,
			MaxTokens:       400,
			TopP:            0.95,
			PresencePenalty: 0,
			Stop:            []string{"Human:"},
			MinTemperature:  0,
			MaxTemperature:  1.5,
		},
		Prompts: PromptConfig{
			System:           defaultSystemPrompt,
			StructuredSystem: defaultStructuredSystemPrompt,
			GroundingPrefix:  "Retrieved context:\n",
			StructuredPrefix: defaultStructuredPrefix,
			KeywordExtractor: defaultKeywordPrompt,
			NoAnswer:         "I could not find any relevant information in the documents of this thread to answer your question.",
			Unavailable:      "Document search is not available for this thread right now.",
			Translation:      "Translate the following text into %s. Reply with the translation only.",
		},
	}
}

// normalize fills zero values left by a partial config file.
func (p *PipelineConfig) normalize() {
	def := DefaultPipeline()
	if p.HistorySize <= 0 {
		p.HistorySize = def.HistorySize
	}
	if p.RAGHistoryExchanges <= 0 {
		p.RAGHistoryExchanges = def.RAGHistoryExchanges
	}
	if p.QueryHistoryExchanges <= 0 {
		p.QueryHistoryExchanges = def.QueryHistoryExchanges
	}
	if p.TimeoutSeconds <= 0 {
		p.TimeoutSeconds = def.TimeoutSeconds
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = def.MaxRetries
	}
	if p.MaxRows <= 0 {
		p.MaxRows = def.MaxRows
	}
	if p.DisplayRows <= 0 {
		p.DisplayRows = def.DisplayRows
	}
	if p.GreetingMaxTokens <= 0 {
		p.GreetingMaxTokens = def.GreetingMaxTokens
	}
	if len(p.Policies) == 0 {
		p.Policies = def.Policies
	}
	if p.Generation.MaxTokens <= 0 {
		p.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if p.Generation.MaxTemperature <= p.Generation.MinTemperature {
		p.Generation.MinTemperature = def.Generation.MinTemperature
		p.Generation.MaxTemperature = def.Generation.MaxTemperature
	}
	if p.Generation.Stop == nil {
		p.Generation.Stop = def.Generation.Stop
	}
	if p.Prompts.System == "" {
		p.Prompts.System = def.Prompts.System
	}
	if p.Prompts.StructuredSystem == "" {
		p.Prompts.StructuredSystem = def.Prompts.StructuredSystem
	}
	if p.Prompts.GroundingPrefix == "" {
		p.Prompts.GroundingPrefix = def.Prompts.GroundingPrefix
	}
	if p.Prompts.StructuredPrefix == "" {
		p.Prompts.StructuredPrefix = def.Prompts.StructuredPrefix
	}
	if p.Prompts.KeywordExtractor == "" {
		p.Prompts.KeywordExtractor = def.Prompts.KeywordExtractor
	}
	if p.Prompts.NoAnswer == "" {
		p.Prompts.NoAnswer = def.Prompts.NoAnswer
	}
	if p.Prompts.Unavailable == "" {
		p.Prompts.Unavailable = def.Prompts.Unavailable
	}
	if p.Prompts.Translation == "" {
		p.Prompts.Translation = def.Prompts.Translation
	}
}

const defaultSystemPrompt = `You are a helpful RAG assistant. Use the retrieved context to answer the user's question.
If the context is enough, answer directly.
If you add your own knowledge or analysis, make this clear (e.g. "based on the retrieved texts..." or "my additional analysis is...").
Do not invent facts, names or numbers that are not supported by the context.
Be concise, clear, and helpful.`

const defaultStructuredSystemPrompt = `You are a data assistant answering questions from live query results.
Report numbers and values exactly as they appear in the query result.
If the query result reports an error, explain that the data could not be retrieved instead of guessing.`

const defaultStructuredPrefix = `The following is the authoritative result of a query run against the data source just now.
It overrides any conflicting values mentioned earlier in the conversation.
If it contains a "RESULT:" line, use that value verbatim in your answer.

`

const defaultKeywordPrompt = `You are a smart AI assistant helping with document retrieval.

Your job is to extract only the essential keywords and phrases from a user query that can be used to retrieve relevant documents. Do NOT rewrite the query. Instead, return a minimal list of distinct, meaningful terms or short phrases.

Do not include stopwords, pronouns, greetings, or irrelevant words. Focus on entities, topics, key terms, technical concepts, and specific content.

Return keywords as a comma-separated list, and nothing else.

Examples:

User: What are the effects of climate change on polar bear populations? explain briefly.
Keywords: climate change, polar bears, effects

User: How does the Transformer architecture work in deep learning?
Keywords: Transformer, deep learning, architecture

Now extract keywords from the following query:
`
