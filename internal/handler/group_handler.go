package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/studyhub-companion/internal/dto"
	"github.com/noah-isme/studyhub-companion/internal/service"
	"github.com/noah-isme/studyhub-companion/internal/utils"
)

// GroupHandler proxies study-group routes and meeting polls.
type GroupHandler struct {
	groups service.GroupService
	polls  service.PollService
	logger zerolog.Logger
}

// NewGroupHandler constructs a group handler.
func NewGroupHandler(groups service.GroupService, polls service.PollService, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{
		groups: groups,
		polls:  polls,
		logger: logger.With().Str("component", "group_handler").Logger(),
	}
}

// Register binds the group routes.
func (h *GroupHandler) Register(router fiber.Router) {
	router.Get("/", h.mine)
	router.Get("/browse", h.browse)
	router.Post("/", h.create)
	router.Get("/:groupId", h.get)
	router.Delete("/:groupId", h.remove)
	router.Post("/:groupId/join", h.requestJoin)
	router.Post("/:groupId/leave", h.leave)
	router.Get("/:groupId/members", h.members)
	router.Get("/:groupId/requests", h.joinRequests)
	router.Post("/:groupId/requests/:userId", h.decide)

	router.Get("/:groupId/polls", h.listPolls)
	router.Post("/:groupId/polls", h.createPoll)
	router.Post("/:groupId/polls/:pollId/vote", h.votePoll)
}

func (h *GroupHandler) mine(c *fiber.Ctx) error {
	listing, err := h.groups.Mine(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, listing.Groups, "groups", fiber.Map{"cache_hit": listing.CacheHit})
}

func (h *GroupHandler) browse(c *fiber.Ctx) error {
	listing, err := h.groups.Browse(withRequestContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.OK(c, listing.Groups, "groups", fiber.Map{"cache_hit": listing.CacheHit})
}

func (h *GroupHandler) create(c *fiber.Ctx) error {
	var req dto.GroupCreateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	group, err := h.groups.Create(withRequestContext(c), req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group created", group)
}

func (h *GroupHandler) get(c *fiber.Ctx) error {
	return h.proxy(c, "group", h.groups.Get)
}

func (h *GroupHandler) remove(c *fiber.Ctx) error {
	groupID, err := requiredParam(c, "groupId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	if err := h.groups.Delete(withRequestContext(c), groupID); err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *GroupHandler) requestJoin(c *fiber.Ctx) error {
	return h.proxy(c, "join requested", h.groups.RequestJoin)
}

func (h *GroupHandler) leave(c *fiber.Ctx) error {
	return h.proxy(c, "left group", h.groups.Leave)
}

func (h *GroupHandler) members(c *fiber.Ctx) error {
	return h.proxy(c, "members", h.groups.Members)
}

func (h *GroupHandler) joinRequests(c *fiber.Ctx) error {
	return h.proxy(c, "join requests", h.groups.JoinRequests)
}

func (h *GroupHandler) decide(c *fiber.Ctx) error {
	groupID, err := requiredParam(c, "groupId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	userID, err := requiredParam(c, "userId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.JoinDecisionRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	out, err := h.groups.DecideJoinRequest(withRequestContext(c), groupID, userID, req.Approve)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "join request decided", out)
}

func (h *GroupHandler) listPolls(c *fiber.Ctx) error {
	return h.proxy(c, "polls", h.polls.List)
}

func (h *GroupHandler) createPoll(c *fiber.Ctx) error {
	groupID, err := requiredParam(c, "groupId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.PollCreateRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	poll, err := h.polls.Create(withRequestContext(c), groupID, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "poll created", poll)
}

func (h *GroupHandler) votePoll(c *fiber.Ctx) error {
	groupID, err := requiredParam(c, "groupId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	pollID, err := requiredParam(c, "pollId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	var req dto.PollVoteRequest
	if ok, err := decodeBody(c, &req); !ok {
		return err
	}
	out, err := h.polls.Vote(withRequestContext(c), groupID, pollID, req)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, "vote recorded", out)
}

func (h *GroupHandler) proxy(c *fiber.Ctx, message string, call groupCall) error {
	groupID, err := requiredParam(c, "groupId")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}
	out, err := call(withRequestContext(c), groupID)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}
	return utils.SendSuccess(c, message, out)
}
