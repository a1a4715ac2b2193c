package main

import (
	"context"
	"fmt"
	"log"

	"visaconnect-relay/internal/config"
	"visaconnect-relay/internal/database"
	"visaconnect-relay/internal/repositories/postgres"
	"visaconnect-relay/internal/services"
	"visaconnect-relay/pkg/logger"
)

// quietNotifier drops change events; nothing is listening while seeding.
type quietNotifier struct{}

func (quietNotifier) PublishConversationChange(context.Context, string, services.ChangeEvent) error {
	return nil
}

func (quietNotifier) PublishUserConversationsChange(context.Context, string, services.ChangeEvent) error {
	return nil
}

var seedUsers = []string{"admin", "alice", "bob", "charlie"}

var seedConversations = []struct {
	participants []string
	messages     []struct{ sender, content string }
}{
	{
		participants: []string{"admin", "alice"},
		messages: []struct{ sender, content string }{
			{"admin", "Hey Alice, your visa documents arrived."},
			{"alice", "Thank you! When is the appointment?"},
			{"admin", "Next Tuesday at 10am."},
		},
	},
	{
		participants: []string{"alice", "bob"},
		messages: []struct{ sender, content string }{
			{"bob", "Hi Alice! If you need any help, feel free to ask."},
		},
	},
	{
		participants: []string{"admin", "bob", "charlie"},
		messages: []struct{ sender, content string }{
			{"admin", "Welcome to the onboarding group."},
			{"charlie", "Glad to be here."},
		},
	},
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	appLogger, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting database seeding...")

	// Connect to database
	db, err := database.NewPostgresConnection(cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", "error", err)
	}
	if err := database.Migrate(db); err != nil {
		appLogger.Fatal("Failed to migrate database", "error", err)
	}

	appLogger.Info("Database connection established")

	conversationService := services.NewConversationService(
		postgres.NewConversationRepository(db),
		postgres.NewMessageRepository(db),
		quietNotifier{},
		nil,
		appLogger,
	)

	ctx := context.Background()

	// Seed conversations and sample messages
	appLogger.Info("Creating conversations...")
	for _, seed := range seedConversations {
		creator := seed.participants[0]
		conversation, created, err := conversationService.CreateConversation(ctx, creator, seed.participants[1:])
		if err != nil {
			appLogger.Warn("Failed to create conversation", "participants", seed.participants, "error", err)
			continue
		}
		if !created {
			appLogger.Info("Conversation already exists", "id", conversation.ID)
			continue
		}
		appLogger.Info("Created conversation", "id", conversation.ID, "participants", conversation.ParticipantIDs)

		for _, msg := range seed.messages {
			if _, _, err := conversationService.SendMessage(ctx, msg.sender, conversation.ID, msg.content); err != nil {
				appLogger.Warn("Failed to create message", "conversationID", conversation.ID, "error", err)
			}
		}
	}

	// Print tokens so the demo users can connect right away
	tokens := services.NewTokenService(cfg.JWT)
	for _, userID := range seedUsers {
		token, err := tokens.IssueToken(userID)
		if err != nil {
			appLogger.Warn("Failed to issue token", "userID", userID, "error", err)
			continue
		}
		fmt.Printf("%-8s %s\n", userID, token)
	}

	appLogger.Info("Database seeding completed successfully!")
}
