package services

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"mocha-rewards/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MemoryService serves the memory endpoints. Reads go through the Ledger, redemption
// through the RedemptionEngine.
type MemoryService struct {
	DB     *gorm.DB
	Ledger *Ledger
	QR     *QRGenerator
	Engine *RedemptionEngine
}

func NewMemoryService(db *gorm.DB, ledger *Ledger, qr *QRGenerator, engine *RedemptionEngine) *MemoryService {
	return &MemoryService{DB: db, Ledger: ledger, QR: qr, Engine: engine}
}

// CreateMemoryInput is the body of POST /memory.
type CreateMemoryInput struct {
	Title               string `json:"title"`
	Description         string `json:"description"`
	ImageURL            string `json:"image_url"`
	IsRedeemable        *bool  `json:"is_redeemable"`
	MaxMints            int64  `json:"max_mints"`
	RedemptionsPerToken int64  `json:"redemptions_per_token"`
	ContractAddress     string `json:"contract_address"`
}

// CreateMemory stores a new active memory owned by creator with a freshly generated QR code.
func (s *MemoryService) CreateMemory(ctx context.Context, creator string, in CreateMemoryInput) (*models.Memory, error) {
	creator = models.NormalizeAddress(creator)
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, NewInvalidRequest("Title is required")
	}
	if in.MaxMints < 0 || in.RedemptionsPerToken < 0 {
		return nil, NewInvalidRequest("max_mints and redemptions_per_token must be positive")
	}

	mem := &models.Memory{
		ID:                  uuid.NewString(),
		CreatorWallet:       creator,
		Title:               title,
		Description:         in.Description,
		ImageURL:            in.ImageURL,
		IsRedeemable:        true,
		MaxMints:            in.MaxMints,
		RedemptionsPerToken: in.RedemptionsPerToken,
		Status:              models.MemoryStatusActive,
	}
	if in.IsRedeemable != nil {
		mem.IsRedeemable = *in.IsRedeemable
	}
	if mem.MaxMints == 0 {
		mem.MaxMints = 1
	}
	if mem.RedemptionsPerToken == 0 {
		mem.RedemptionsPerToken = 1
	}

	if in.ContractAddress != "" {
		if !common.IsHexAddress(in.ContractAddress) {
			return nil, NewInvalidRequest("contract_address is not a valid address")
		}
		contract := models.NormalizeAddress(in.ContractAddress)
		if _, found, err := s.Ledger.FindMemoryByContract(ctx, contract); err != nil {
			return nil, NewInternal(err)
		} else if found {
			return nil, NewConflict("memory already exists for contract", map[string]any{"contract_address": contract})
		}
		mem.ContractAddress = &contract
	}

	content, image, err := s.QR.Generate(ctx, mem.ID, mem.Title)
	if err != nil {
		return nil, NewInternal(err)
	}
	mem.QRCode = content
	mem.QRImage = image

	if err := s.DB.WithContext(ctx).Create(mem).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, NewConflict("memory already exists for contract", map[string]any{"contract_address": in.ContractAddress})
		}
		return nil, NewInternal(err)
	}
	log.Printf("✅ [Memory] %s created by %s (max_mints=%d)", mem.ID, creator, mem.MaxMints)
	return mem, nil
}

// respondError writes err as {"error","code"} with the status of its ServiceError.
func respondError(c *fiber.Ctx, err error) error {
	sErr := AsServiceError(err)
	body := fiber.Map{"error": sErr.Message, "code": sErr.Code}
	if sErr.Code == ErrConflict {
		body["reason"] = sErr.Message
	}
	if sErr.Code == ErrInternal {
		log.Printf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
		body["error"] = "internal error"
	}
	return c.Status(sErr.Status).JSON(body)
}

func caller(c *fiber.Ctx) (Identity, error) {
	id, ok := IdentityFromCtx(c)
	if !ok {
		return Identity{}, NewUnauthorized("authentication required")
	}
	return id, nil
}

// HandleCreate serves POST /memory.
func (s *MemoryService) HandleCreate(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	var in CreateMemoryInput
	if err := c.BodyParser(&in); err != nil {
		return respondError(c, NewInvalidRequest("invalid request body"))
	}
	mem, err := s.CreateMemory(c.UserContext(), id.Wallet, in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "memory": mem})
}

// HandleTokenOwnership serves GET /memory/tokenId.
func (s *MemoryService) HandleTokenOwnership(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	um, err := s.Ledger.LatestTokenForWallet(c.UserContext(), id.Wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"token_id":         um.TokenID,
		"memory_id":        um.MemoryID,
		"tx_hash":          um.TxHash,
		"status":           um.Status,
		"redemption_count": um.RedemptionCount,
		"max_redemptions":  um.MaxRedemptions,
		"minted_at":        um.MintedAt,
	})
}

// HandleRedeem serves PATCH /memory/redeem.
func (s *MemoryService) HandleRedeem(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	var req RedeemRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, NewInvalidRequest("invalid request body"))
	}
	result, err := s.Engine.Redeem(c.UserContext(), id, req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleUserMemories serves GET /memory/user.
func (s *MemoryService) HandleUserMemories(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	owned, err := s.Ledger.UserMemories(c.UserContext(), id.Wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"memories": owned})
}

// HandleCreatedMemories serves GET /memory/created.
func (s *MemoryService) HandleCreatedMemories(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	created, err := s.Ledger.CreatedMemories(c.UserContext(), id.Wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"memories": created})
}

// HandleDetails serves GET /memory/:id.
func (s *MemoryService) HandleDetails(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	detail, err := s.Ledger.MemoryDetails(c.UserContext(), c.Params("id"), id.Wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(detail)
}

// HandleMinters serves GET /memory/:id/minters.
func (s *MemoryService) HandleMinters(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	minters, err := s.Ledger.Minters(c.UserContext(), c.Params("id"), id.Wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"minters": minters, "count": len(minters)})
}

// HandleExpire serves PATCH /memory/:id/expire.
func (s *MemoryService) HandleExpire(c *fiber.Ctx) error {
	id, err := caller(c)
	if err != nil {
		return respondError(c, err)
	}
	mem, err := s.Ledger.ExpireMemory(c.UserContext(), c.Params("id"), id.Wallet)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "memory": mem})
}

// ParseTokenID parses a decimal token id as given on the command line.
func ParseTokenID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0, NewInvalidRequest("token id must be a non-negative integer")
	}
	return id, nil
}
