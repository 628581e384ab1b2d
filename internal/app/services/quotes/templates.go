package quotes

import (
	"context"
	"strings"

	"github.com/richiesta-assistenza/service_layer/internal/app/domain/quote"
	"github.com/richiesta-assistenza/service_layer/internal/errors"
)

// SaveTemplate stores the items and terms of one of the professional's
// quotes under name.
func (s *Service) SaveTemplate(ctx context.Context, professionalID, quoteID, name, description string) (quote.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return quote.Template{}, errors.Validation(map[string]string{"name": "name is required"})
	}
	q, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return quote.Template{}, err
	}
	if q.ProfessionalID != professionalID {
		return quote.Template{}, errors.Forbidden("Only the author can save this quote as a template")
	}
	tpl, err := s.store.CreateTemplate(ctx, quote.Template{
		ProfessionalID: professionalID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		Items:          q.Items,
		Terms:          q.Terms,
	})
	if err != nil {
		return quote.Template{}, err
	}
	s.log.WithField("template_id", tpl.ID).WithField("quote_id", quoteID).Info("quote template saved")
	return tpl, nil
}

// Templates lists the professional's templates.
func (s *Service) Templates(ctx context.Context, professionalID string) ([]quote.Template, error) {
	tpls, err := s.store.ListTemplates(ctx, professionalID)
	if err != nil {
		return nil, err
	}
	if tpls == nil {
		tpls = []quote.Template{}
	}
	return tpls, nil
}

// CreateFromTemplate creates a quote on requestID from one of the
// professional's templates. Fields set in overrides win over the template.
func (s *Service) CreateFromTemplate(ctx context.Context, professionalID, templateID, requestID string, overrides Input) (quote.Quote, error) {
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return quote.Quote{}, err
	}
	if tpl.ProfessionalID != professionalID {
		return quote.Quote{}, errors.NotFound("template", templateID)
	}
	in := overrides
	in.RequestID = requestID
	if strings.TrimSpace(in.Title) == "" {
		in.Title = tpl.Name
	}
	if in.Description == "" {
		in.Description = tpl.Description
	}
	if len(in.Items) == 0 {
		in.Items = tpl.Items
	}
	if in.Terms == "" {
		in.Terms = tpl.Terms
	}
	return s.Create(ctx, professionalID, in)
}
