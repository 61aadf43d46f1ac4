package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"coin-mixer/internal/adapter/http/dto"
	"coin-mixer/internal/adapter/http/middleware"
	"coin-mixer/internal/core/domain"
	"coin-mixer/internal/core/ports"
	"coin-mixer/pkg/apperror"
	"coin-mixer/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultIdempotencyTTL is how long a rendered transfer response is replayable.
const DefaultIdempotencyTTL = 24 * time.Hour

// MixerHandler exposes the mixer over REST.
type MixerHandler struct {
	mixerSvc   ports.MixerService
	journal    ports.TransactionJournal // nil = journal endpoint disabled
	cache      ports.IdempotencyCache   // nil = Idempotency-Key ignored
	mintAmount decimal.Decimal
	cacheTTL   time.Duration
	log        zerolog.Logger
}

// NewMixerHandler creates a new MixerHandler.
func NewMixerHandler(
	mixerSvc ports.MixerService,
	journal ports.TransactionJournal,
	cache ports.IdempotencyCache,
	mintAmount decimal.Decimal,
	log zerolog.Logger,
) *MixerHandler {
	return &MixerHandler{
		mixerSvc:   mixerSvc,
		journal:    journal,
		cache:      cache,
		mintAmount: mintAmount,
		cacheTTL:   DefaultIdempotencyTTL,
		log:        log,
	}
}

// IssueAddress handles POST /api/v1/addresses.
func (h *MixerHandler) IssueAddress(c *gin.Context) {
	var req dto.IssueAddressRequest
	if err := bindTrimmedJSON(c, &req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	address, err := h.mixerSvc.IssueDepositAddress(c.Request.Context(), req.PrivateAddresses)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.IssueAddressResponse{DepositAddress: address}
	if book, ok := h.mixerSvc.(ports.PrivateAddressBook); ok {
		resp.PrivateAddresses, _ = book.PrivateAddresses(address)
	}
	response.Created(c, resp)
}

// Transfer handles POST /api/v1/transfers. A request carrying an
// Idempotency-Key that was already answered gets the first response back.
func (h *MixerHandler) Transfer(c *gin.Context) {
	var req dto.TransferRequest
	if err := bindTrimmedJSON(c, &req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	key := c.GetHeader(middleware.HeaderIdempotencyKey)
	if key != "" && h.cache != nil {
		cached, err := h.cache.Get(c.Request.Context(), transferCacheKey(key))
		if err != nil {
			h.log.Warn().Err(err).Msg("idempotency cache read failed, executing transfer")
		} else if cached != nil {
			response.Replay(c, http.StatusCreated, cached)
			return
		}
	}

	sender := req.From
	if sender == "" {
		sender = domain.MintedAddress
	}
	def := decimal.Zero
	if sender == domain.MintedAddress {
		def = h.mintAmount
	} else if req.Amount == "" {
		response.Error(c, apperror.Validation("amount is required unless minting"))
		return
	}
	amount, err := dto.ParseAmount(req.Amount, def)
	if err != nil {
		response.Error(c, apperror.ErrInvalidAmount())
		return
	}

	tx, err := h.mixerSvc.ExecuteTransfer(c.Request.Context(), ports.TransferRequest{
		Sender:   sender,
		Receiver: req.To,
		Amount:   amount,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	body, err := json.Marshal(response.Envelope(c, dto.NewTransactionResponse(*tx)))
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}
	if key != "" && h.cache != nil {
		if err := h.cache.Set(c.Request.Context(), transferCacheKey(key), body, h.cacheTTL); err != nil {
			h.log.Warn().Err(err).Msg("idempotency cache write failed")
		}
	}
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// ListTransactions handles GET /api/v1/transactions. Without an address
// query parameter it returns the global log.
func (h *MixerHandler) ListTransactions(c *gin.Context) {
	txs, err := h.mixerSvc.TransactionsFor(c.Request.Context(), c.Query("address"))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := dto.NewTransactionResponses(txs)
	response.OK(c, dto.TransactionListResponse{Transactions: items, Count: len(items)})
}

// GetAddress handles GET /api/v1/addresses/:address.
func (h *MixerHandler) GetAddress(c *gin.Context) {
	address := c.Param("address")
	ctx := c.Request.Context()

	balance, err := h.mixerSvc.BalanceOf(ctx, address)
	if err != nil {
		response.Error(c, err)
		return
	}
	txs, err := h.mixerSvc.TransactionsFor(ctx, address)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.AddressResponse{
		Address:      address,
		Balance:      domain.FormatAmount(balance),
		Transactions: dto.NewTransactionResponses(txs),
	})
}

// GetStats handles GET /api/v1/stats.
func (h *MixerHandler) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	fees, err := h.mixerSvc.FeesCollected(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}
	minted, err := h.mixerSvc.MintedTotal(ctx)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.StatsResponse{
		FeesCollected: fees.String(),
		MintedTotal:   minted.String(),
	})
}

// ListJournal handles GET /api/v1/journal, reading the durable journal
// rather than the live log. Only routed when a journal is configured.
func (h *MixerHandler) ListJournal(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			response.Error(c, apperror.Validation("limit must be a positive integer"))
			return
		}
		limit = n
	}

	txs, err := h.journal.ListByAddress(c.Request.Context(), c.Query("address"), limit)
	if err != nil {
		response.Error(c, apperror.InternalError(err))
		return
	}

	items := dto.NewTransactionResponses(txs)
	response.OK(c, dto.TransactionListResponse{Transactions: items, Count: len(items)})
}

func transferCacheKey(key string) string {
	return "transfer:" + key
}

// bindTrimmedJSON decodes the body, trims string fields, then runs the
// binding validators so padded input is validated in its trimmed form.
func bindTrimmedJSON(c *gin.Context, obj any) error {
	if c.Request.Body == nil {
		return errors.New("empty request body")
	}
	if err := json.NewDecoder(c.Request.Body).Decode(obj); err != nil {
		return err
	}
	dto.TrimStruct(obj)
	return binding.Validator.ValidateStruct(obj)
}
