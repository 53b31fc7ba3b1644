// Package pipeline holds the assistant's text pipelines: terminology
// correction, style validation and document elaboration. Each one is a thin
// prompt builder over the invocation engine; candidate matching and lexical
// rules run in external services and arrive here as plain input.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aina-assist/internal/engine"
)

// Module names stamped on telemetry entries.
const (
	ModuleTerminology = "terminologia"
	ModuleStyle       = "estil"
	ModuleElaboration = "elaboracio"
)

// Invoker is the engine surface the pipelines depend on.
type Invoker interface {
	Invoke(ctx context.Context, req engine.Request) (*engine.Result, error)
}

// Candidate is one glossary match produced by the external matcher.
type Candidate struct {
	Term       string  `json:"term"`
	Suggestion string  `json:"suggestion"`
	Score      float64 `json:"score,omitempty"`
}

// Attribution ties an invocation to the end user for telemetry.
type Attribution struct {
	UserID    string
	SessionID string
}

type Pipelines struct {
	log *slog.Logger
	inv Invoker
}

func New(log *slog.Logger, inv Invoker) *Pipelines {
	return &Pipelines{log: log, inv: inv}
}

const correctionSystem = "Ets un corrector terminològic especialitzat en llenguatge administratiu català. " +
	"Revisa el text i aplica només les substitucions de la llista de candidats que hi encaixin pel context. " +
	"Respon únicament amb un objecte JSON amb el camp \"esmenes\", una llista d'objectes amb els camps " +
	"\"terme\", \"recomanacio\" i \"fragment\" (la frase on apareix). Si cap candidat no escau, retorna una llista buida."

const styleSystem = "Ets un revisor d'estil per a textos de l'administració pública catalana. " +
	"Avalua el to, el registre formal, la claredat i el tractament personal del text. " +
	"Respon únicament amb un objecte JSON amb els camps \"valoracio\" (apte, millorable o inadequat) i " +
	"\"observacions\", una llista d'objectes amb els camps \"fragment\", \"problema\" i \"proposta\"."

const elaborationSystem = "Ets un redactor de documents administratius en català. " +
	"A partir de les instruccions i el material de referència, redacta el document sol·licitat " +
	"en registre formal, ben estructurat i sense tractaments discriminatoris."

// CorrectTerminology asks the model to apply the matched glossary candidates
// to the text and returns the structured list of applied corrections.
func (p *Pipelines) CorrectTerminology(ctx context.Context, text string, candidates []Candidate, attr Attribution) (*engine.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", engine.ErrInvalidArgument)
	}

	var b strings.Builder
	b.WriteString("Candidats de substitució:\n")
	if len(candidates) == 0 {
		b.WriteString("(cap)\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %q -> %q\n", c.Term, c.Suggestion)
	}
	b.WriteString("\nText a revisar:\n")
	b.WriteString(text)

	return p.inv.Invoke(ctx, engine.Request{
		Prompt:       b.String(),
		SystemPrompt: correctionSystem,
		JSONResponse: true,
		Module:       ModuleTerminology,
		UserID:       attr.UserID,
		SessionID:    attr.SessionID,
	})
}

// ValidateStyle produces a structured style and tone report for the text.
func (p *Pipelines) ValidateStyle(ctx context.Context, text string, attr Attribution) (*engine.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", engine.ErrInvalidArgument)
	}
	return p.inv.Invoke(ctx, engine.Request{
		Prompt:       "Text a avaluar:\n" + text,
		SystemPrompt: styleSystem,
		JSONResponse: true,
		Module:       ModuleStyle,
		UserID:       attr.UserID,
		SessionID:    attr.SessionID,
	})
}

// Elaborate drafts a document from instructions plus optional reference
// material. Long references go through iterative refinement so each pass
// keeps the draft built so far.
func (p *Pipelines) Elaborate(ctx context.Context, instructions, reference string, attr Attribution) (*engine.Result, error) {
	if strings.TrimSpace(instructions) == "" {
		return nil, fmt.Errorf("%w: empty instructions", engine.ErrInvalidArgument)
	}

	prompt := "Instruccions:\n" + instructions
	if strings.TrimSpace(reference) != "" {
		prompt += "\n\nMaterial de referència:\n" + reference
	}
	return p.inv.Invoke(ctx, engine.Request{
		Prompt:       prompt,
		SystemPrompt: elaborationSystem,
		Module:       ModuleElaboration,
		UserID:       attr.UserID,
		SessionID:    attr.SessionID,
		Strategy:     engine.StrategyRefine,
	})
}
