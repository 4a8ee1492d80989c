package handler

import (
	"swapmarket/internal/usecase"
)

var messagingHandler *MessagingHandler

func Setup(messagingUseCase *usecase.MessagingUseCase) {
	messagingHandler = NewMessagingHandler(messagingUseCase)
}

func GetMessagingHandler() *MessagingHandler {
	return messagingHandler
}
