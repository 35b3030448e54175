package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/finops/internal/approval"
	"github.com/odyssey-erp/finops/internal/document"
	"github.com/odyssey-erp/finops/internal/posting"
	"github.com/odyssey-erp/finops/internal/sequence"
	"github.com/odyssey-erp/finops/internal/shared"
)

// Reader loads documents outside a unit of work.
type Reader interface {
	GetDocument(ctx context.Context, orgID int64, id uuid.UUID) (document.Document, error)
}

// IDGenerator issues human ids.
type IDGenerator interface {
	NextSequentialID(ctx context.Context, req sequence.Request) (string, error)
}

// Approvals resolves chains and decides transitions.
type Approvals interface {
	FeatureConfig(ctx context.Context, feature string, orgID int64) approval.FeatureConfig
	AdvanceWith(ctx context.Context, cfg approval.FeatureConfig, in approval.AdvanceInput) (approval.Outcome, error)
	Notify(ctx context.Context, ref approval.DocumentRef, out approval.Outcome)
}

// Poster applies and undoes document effects within a unit of work.
type Poster interface {
	PostTx(ctx context.Context, tx posting.TxRepository, doc *document.Document) (posting.Result, error)
	ReverseTx(ctx context.Context, tx posting.TxRepository, doc *document.Document) error
}

// History records approval transitions.
type History interface {
	Record(ctx context.Context, entry approval.HistoryEntry) error
}

// AuditRecorder stores audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service drives documents through creation, approval, edits and invalidation.
// Every operation runs as one unit of work; notifications go out only after it commits.
type Service struct {
	repo      posting.Repository
	reader    Reader
	ids       IDGenerator
	approvals Approvals
	posting   Poster
	history   History
	audit     AuditRecorder
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// Dependencies groups the collaborators of Service.
type Dependencies struct {
	Repository posting.Repository
	Reader     Reader
	IDs        IDGenerator
	Approvals  Approvals
	Posting    Poster
	History    History
	Audit      AuditRecorder
	Logger     *slog.Logger
}

// NewService constructs Service.
func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	_ = v.RegisterValidation("doc_kind", func(fl validator.FieldLevel) bool {
		return document.Kind(fl.Field().String()).Valid()
	})
	return &Service{
		repo:      deps.Repository,
		reader:    deps.Reader,
		ids:       deps.IDs,
		approvals: deps.Approvals,
		posting:   deps.Posting,
		history:   deps.History,
		audit:     deps.Audit,
		validate:  v,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s", shared.ErrValidation, fieldErrs[0].Error())
		}
		return fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return nil
}

func checkAmounts(doc document.Document) error {
	if !doc.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	if doc.BalanceDue.IsNegative() || doc.BalanceDue.GreaterThan(doc.Amount) {
		return fmt.Errorf("%w: balance due must be between zero and amount", shared.ErrValidation)
	}
	if doc.VoucherType != "" && doc.Kind != document.KindExpenseVoucher {
		return fmt.Errorf("%w: voucher type only applies to expense vouchers", shared.ErrValidation)
	}
	return nil
}

// Create stores a new document in its initial approval state.
// A document that needs no approval is posted in the same unit of work.
func (s *Service) Create(ctx context.Context, in CreateInput) (document.Document, error) {
	if err := s.check(in); err != nil {
		return document.Document{}, err
	}
	doc := document.Document{
		ID:                   uuid.New(),
		Kind:                 in.Kind,
		OrganizationID:       in.OrganizationID,
		CompanyID:            in.CompanyID,
		Date:                 in.Date,
		Amount:               in.Amount,
		BalanceDue:           in.BalanceDue,
		AccountID:            in.AccountID,
		PaidThroughAccountID: in.PaidThroughAccountID,
		VendorID:             in.VendorID,
		CostCenterID:         in.CostCenterID,
		ParentOrderID:        in.ParentOrderID,
		VoucherType:          in.VoucherType,
		Valid:                true,
		CreatedBy:            in.ActorID,
	}
	if doc.Kind == document.KindExpenseVoucher && doc.VoucherType == "" {
		doc.VoucherType = document.VoucherPayment
	}
	if err := checkAmounts(doc); err != nil {
		return document.Document{}, err
	}

	feature := doc.Kind.Feature()
	cfg := s.approvals.FeatureConfig(ctx, feature, doc.OrganizationID)
	doc.Approval = approval.NewTrail(approval.ResolveInitialState(cfg))

	req := sequence.Request{OrganizationID: doc.OrganizationID, EntityType: string(doc.Kind), Override: in.SequenceOverride}
	if doc.IsPartial() {
		req.PartialOf = doc.ParentOrderID
	}
	humanID, err := s.ids.NextSequentialID(ctx, req)
	if err != nil {
		return document.Document{}, err
	}
	doc.HumanID = humanID

	draft := doc
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		d := draft
		if d.Approval.State == approval.StateNone {
			if _, err := s.posting.PostTx(ctx, tx, &d); err != nil {
				return err
			}
		}
		if err := tx.InsertDocument(ctx, d); err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return document.Document{}, err
	}

	s.recordHistory(ctx, doc, in.ActorID, "", doc.Approval.State, "")
	s.recordAudit(ctx, doc, in.ActorID, "document.create", nil)
	if next, ok := approval.NextLevel(doc.Approval.State, cfg); ok {
		s.approvals.Notify(ctx, ref(doc), approval.Outcome{
			NewState:      doc.Approval.State,
			Trail:         doc.Approval,
			NextLevel:     next,
			NextApprovers: cfg.Roles(next),
		})
	}
	return doc, nil
}

// Advance moves the document to in.Target, posting when the chain completes and
// reversing when it leaves a committed state.
func (s *Service) Advance(ctx context.Context, in ActionInput) (Result, error) {
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	var res Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, in.OrganizationID, in.DocumentID)
		if err != nil {
			return err
		}
		if !doc.Valid {
			return document.ErrDocumentInvalidated
		}
		cfg := s.approvals.FeatureConfig(ctx, doc.Kind.Feature(), doc.OrganizationID)
		out, err := s.approvals.AdvanceWith(ctx, cfg, approval.AdvanceInput{
			Feature:        doc.Kind.Feature(),
			OrganizationID: doc.OrganizationID,
			Trail:          doc.Approval,
			ActorID:        in.ActorID,
			Target:         in.Target,
			Comment:        in.Comment,
			Posted:         doc.Posted(),
		})
		if err != nil {
			return err
		}
		doc.Approval = out.Trail
		if out.Release && doc.Posted() {
			if err := s.posting.ReverseTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		if out.Commit && !doc.Posted() {
			if _, err := s.posting.PostTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return err
		}
		res = Result{Document: doc, Outcome: out}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	s.recordHistory(ctx, res.Document, in.ActorID, res.Outcome.Previous, res.Outcome.NewState, in.Comment)
	s.recordAudit(ctx, res.Document, in.ActorID, "document.approval", map[string]any{
		"from": string(res.Outcome.Previous), "to": string(res.Outcome.NewState), "final": res.Outcome.IsFinal,
	})
	s.approvals.Notify(ctx, ref(res.Document), res.Outcome)
	return res, nil
}

// Reject moves the document to rejected, reversing posted effects.
func (s *Service) Reject(ctx context.Context, orgID int64, id uuid.UUID, actorID int64, comment string) (Result, error) {
	return s.Advance(ctx, ActionInput{OrganizationID: orgID, DocumentID: id, ActorID: actorID, Target: approval.StateRejected, Comment: comment})
}

// Correct sends the document back for correction, clearing every approval signature.
func (s *Service) Correct(ctx context.Context, orgID int64, id uuid.UUID, actorID int64, comment string) (Result, error) {
	return s.Advance(ctx, ActionInput{OrganizationID: orgID, DocumentID: id, ActorID: actorID, Target: approval.StateCorrection, Comment: comment})
}

// Update edits the document. Posted effects are reversed and posted again with the
// new values. Updating a rejected or corrected document resubmits it from the
// initial state.
func (s *Service) Update(ctx context.Context, in UpdateInput) (document.Document, error) {
	if err := s.check(in); err != nil {
		return document.Document{}, err
	}
	var (
		doc         document.Document
		resubmitted bool
		previous    approval.State
		cfg         approval.FeatureConfig
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, in.OrganizationID, in.DocumentID)
		if err != nil {
			return err
		}
		if !doc.Valid {
			return document.ErrDocumentInvalidated
		}
		cfg = s.approvals.FeatureConfig(ctx, doc.Kind.Feature(), doc.OrganizationID)
		previous = doc.Approval.State
		resubmitted = false
		wasPosted := doc.Posted()
		if wasPosted {
			if err := s.posting.ReverseTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		in.Changes.apply(&doc)
		if err := checkAmounts(doc); err != nil {
			return err
		}
		if previous == approval.StateRejected || previous == approval.StateCorrection {
			if !approval.CanResubmit(previous, cfg) {
				return ErrNotResubmittable
			}
			doc.Approval.Reset(approval.ResolveInitialState(cfg))
			resubmitted = true
		}
		repost := wasPosted && !resubmitted
		if resubmitted {
			repost = doc.Approval.State == approval.StateNone
		}
		if repost {
			if _, err := s.posting.PostTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		return document.Document{}, err
	}

	s.recordAudit(ctx, doc, in.ActorID, "document.update", map[string]any{"resubmitted": resubmitted})
	if resubmitted {
		s.recordHistory(ctx, doc, in.ActorID, previous, doc.Approval.State, "")
		if next, ok := approval.NextLevel(doc.Approval.State, cfg); ok {
			s.approvals.Notify(ctx, ref(doc), approval.Outcome{
				Previous:      previous,
				NewState:      doc.Approval.State,
				Trail:         doc.Approval,
				NextLevel:     next,
				NextApprovers: cfg.Roles(next),
			})
		}
	}
	return doc, nil
}

// Invalidate soft deletes the document after reversing its effects.
func (s *Service) Invalidate(ctx context.Context, orgID int64, id uuid.UUID, actorID int64) error {
	var doc document.Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		var err error
		doc, err = tx.GetDocumentForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		if !doc.Valid {
			return document.ErrDocumentInvalidated
		}
		if doc.Posted() {
			if err := s.posting.ReverseTx(ctx, tx, &doc); err != nil {
				return err
			}
		}
		doc.Valid = false
		return tx.UpdateDocument(ctx, doc)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, doc, actorID, "document.invalidate", nil)
	return nil
}

// Revise re-issues a committed document under a -REV{n} id with its approval chain
// restarted. The original is reversed and invalidated in the same unit of work.
func (s *Service) Revise(ctx context.Context, in UpdateInput) (document.Document, error) {
	if err := s.check(in); err != nil {
		return document.Document{}, err
	}
	original, err := s.reader.GetDocument(ctx, in.OrganizationID, in.DocumentID)
	if err != nil {
		return document.Document{}, err
	}
	humanID, err := s.ids.NextSequentialID(ctx, sequence.Request{
		OrganizationID: in.OrganizationID,
		EntityType:     string(original.Kind),
		RevisionOf:     original.HumanID,
	})
	if err != nil {
		return document.Document{}, err
	}

	var revision document.Document
	cfg := s.approvals.FeatureConfig(ctx, original.Kind.Feature(), original.OrganizationID)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		orig, err := tx.GetDocumentForUpdate(ctx, in.OrganizationID, in.DocumentID)
		if err != nil {
			return err
		}
		if !orig.Valid {
			return document.ErrDocumentInvalidated
		}
		if !orig.Posted() && !approval.IsCommitted(orig.Approval.State, cfg) {
			return fmt.Errorf("%w: %s is %s", ErrNotRevisable, orig.HumanID, orig.Approval.State)
		}
		if orig.Posted() {
			if err := s.posting.ReverseTx(ctx, tx, &orig); err != nil {
				return err
			}
		}
		orig.Valid = false
		if err := tx.UpdateDocument(ctx, orig); err != nil {
			return err
		}

		revision = orig
		revision.ID = uuid.New()
		revision.HumanID = humanID
		revision.Revision = orig.Revision + 1
		revision.Valid = true
		revision.Transactions = nil
		revision.PostedCostCenterID = nil
		revision.CreatedBy = in.ActorID
		revision.Approval = approval.NewTrail(approval.ResolveInitialState(cfg))
		in.Changes.apply(&revision)
		if err := checkAmounts(revision); err != nil {
			return err
		}
		if revision.Approval.State == approval.StateNone {
			if _, err := s.posting.PostTx(ctx, tx, &revision); err != nil {
				return err
			}
		}
		return tx.InsertDocument(ctx, revision)
	})
	if err != nil {
		return document.Document{}, err
	}

	s.recordAudit(ctx, revision, in.ActorID, "document.revise", map[string]any{"revision_of": original.HumanID})
	s.recordHistory(ctx, revision, in.ActorID, "", revision.Approval.State, "revision of "+original.HumanID)
	if next, ok := approval.NextLevel(revision.Approval.State, cfg); ok {
		s.approvals.Notify(ctx, ref(revision), approval.Outcome{
			NewState:      revision.Approval.State,
			Trail:         revision.Approval,
			NextLevel:     next,
			NextApprovers: cfg.Roles(next),
		})
	}
	return revision, nil
}

// Get loads a document.
func (s *Service) Get(ctx context.Context, orgID int64, id uuid.UUID) (document.Document, error) {
	return s.reader.GetDocument(ctx, orgID, id)
}

func ref(doc document.Document) approval.DocumentRef {
	return approval.DocumentRef{
		OrganizationID: doc.OrganizationID,
		Feature:        doc.Kind.Feature(),
		Prefix:         string(doc.Kind),
		DocumentID:     doc.ID.String(),
		HumanID:        doc.HumanID,
	}
}

func (s *Service) recordHistory(ctx context.Context, doc document.Document, actorID int64, from, to approval.State, comment string) {
	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, approval.HistoryEntry{
		OrganizationID: doc.OrganizationID,
		DocumentID:     doc.ID,
		ActorID:        actorID,
		From:           from,
		To:             to,
		Comment:        comment,
		At:             s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("approval history", slog.String("document", doc.HumanID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, doc document.Document, actorID int64, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["reference"] = doc.HumanID
	meta["kind"] = string(doc.Kind)
	err := s.audit.Record(ctx, shared.AuditLog{
		OrganizationID: doc.OrganizationID,
		ActorID:        actorID,
		Action:         action,
		Entity:         "financial_document",
		EntityID:       doc.ID.String(),
		Meta:           meta,
		At:             s.now().UTC(),
	})
	if err != nil {
		s.logger.Warn("document audit", slog.String("document", doc.HumanID), slog.Any("error", err))
	}
}
