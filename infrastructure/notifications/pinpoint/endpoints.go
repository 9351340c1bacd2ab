// Package pinpoint manages users' push notification endpoints in Amazon
// Pinpoint.
package pinpoint

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	"github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"real-backend/application/ports"
	apperrors "real-backend/pkg/errors"
	"real-backend/pkg/resilience"
)

const (
	optOutNone = "NONE"
	optOutAll  = "ALL"
)

// API is the subset of the Pinpoint client used here.
type API interface {
	UpdateEndpoint(ctx context.Context, params *pinpoint.UpdateEndpointInput, optFns ...func(*pinpoint.Options)) (*pinpoint.UpdateEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, params *pinpoint.DeleteEndpointInput, optFns ...func(*pinpoint.Options)) (*pinpoint.DeleteEndpointOutput, error)
	GetUserEndpoints(ctx context.Context, params *pinpoint.GetUserEndpointsInput, optFns ...func(*pinpoint.Options)) (*pinpoint.GetUserEndpointsOutput, error)
	DeleteUserEndpoints(ctx context.Context, params *pinpoint.DeleteUserEndpointsInput, optFns ...func(*pinpoint.Options)) (*pinpoint.DeleteUserEndpointsOutput, error)
}

// Endpoints implements ports.PushNotifications. Endpoint ids are derived from
// (user, channel), so repeated updates address the same endpoint.
type Endpoints struct {
	client        API
	applicationID string
	breaker       *resilience.Breaker
	logger        *zap.Logger
}

// NewEndpoints creates a new push endpoint adapter
func NewEndpoints(client API, applicationID string, breaker *resilience.Breaker, logger *zap.Logger) *Endpoints {
	return &Endpoints{
		client:        client,
		applicationID: applicationID,
		breaker:       breaker,
		logger:        logger,
	}
}

// EndpointID returns the deterministic endpoint id of a user's channel.
func EndpointID(userID string, channel ports.Channel) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(userID+"/"+string(channel))).String()
}

func channelType(channel ports.Channel) types.ChannelType {
	if channel == ports.ChannelSMS {
		return types.ChannelTypeSms
	}
	return types.ChannelTypeEmail
}

func isNotFound(err error) bool {
	var nf *types.NotFoundException
	return errors.As(err, &nf)
}

func mapError(operation string, err error) error {
	var bad *types.BadRequestException
	if errors.As(err, &bad) {
		return apperrors.NewDataIntegrityError("pinpoint "+operation+" rejected", err)
	}
	return apperrors.NewTransientError("pinpoint."+operation, err)
}

// UpdateUserEndpoint creates or updates the endpoint for a channel address
func (e *Endpoints) UpdateUserEndpoint(ctx context.Context, userID string, channel ports.Channel, address string) error {
	return e.breaker.Execute(ctx, "updateUserEndpoint", func(ctx context.Context) error {
		_, err := e.client.UpdateEndpoint(ctx, &pinpoint.UpdateEndpointInput{
			ApplicationId: aws.String(e.applicationID),
			EndpointId:    aws.String(EndpointID(userID, channel)),
			EndpointRequest: &types.EndpointRequest{
				Address:     aws.String(address),
				ChannelType: channelType(channel),
				OptOut:      aws.String(optOutNone),
				User:        &types.EndpointUser{UserId: aws.String(userID)},
			},
		})
		if err != nil {
			return mapError("UpdateEndpoint", err)
		}
		return nil
	})
}

// DeleteUserEndpoint removes the endpoint of one channel
func (e *Endpoints) DeleteUserEndpoint(ctx context.Context, userID string, channel ports.Channel) error {
	return e.breaker.Execute(ctx, "deleteUserEndpoint", func(ctx context.Context) error {
		_, err := e.client.DeleteEndpoint(ctx, &pinpoint.DeleteEndpointInput{
			ApplicationId: aws.String(e.applicationID),
			EndpointId:    aws.String(EndpointID(userID, channel)),
		})
		if err != nil && !isNotFound(err) {
			return mapError("DeleteEndpoint", err)
		}
		return nil
	})
}

// EnableUserEndpoints opts every endpoint of the user back in
func (e *Endpoints) EnableUserEndpoints(ctx context.Context, userID string) error {
	return e.setOptOut(ctx, "enableUserEndpoints", userID, optOutNone)
}

// DisableUserEndpoints opts every endpoint of the user out
func (e *Endpoints) DisableUserEndpoints(ctx context.Context, userID string) error {
	return e.setOptOut(ctx, "disableUserEndpoints", userID, optOutAll)
}

func (e *Endpoints) setOptOut(ctx context.Context, operation, userID, optOut string) error {
	return e.breaker.Execute(ctx, operation, func(ctx context.Context) error {
		output, err := e.client.GetUserEndpoints(ctx, &pinpoint.GetUserEndpointsInput{
			ApplicationId: aws.String(e.applicationID),
			UserId:        aws.String(userID),
		})
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return mapError("GetUserEndpoints", err)
		}
		if output.EndpointsResponse == nil {
			return nil
		}

		for _, endpoint := range output.EndpointsResponse.Item {
			_, err := e.client.UpdateEndpoint(ctx, &pinpoint.UpdateEndpointInput{
				ApplicationId: aws.String(e.applicationID),
				EndpointId:    endpoint.Id,
				EndpointRequest: &types.EndpointRequest{
					Address:     endpoint.Address,
					ChannelType: endpoint.ChannelType,
					OptOut:      aws.String(optOut),
				},
			})
			if err != nil && !isNotFound(err) {
				return mapError("UpdateEndpoint", err)
			}
		}
		e.logger.Debug("Updated endpoint opt-out",
			zap.String("userID", userID),
			zap.String("optOut", optOut),
			zap.Int("endpoints", len(output.EndpointsResponse.Item)),
		)
		return nil
	})
}

// DeleteUserEndpoints removes every endpoint of the user
func (e *Endpoints) DeleteUserEndpoints(ctx context.Context, userID string) error {
	return e.breaker.Execute(ctx, "deleteUserEndpoints", func(ctx context.Context) error {
		_, err := e.client.DeleteUserEndpoints(ctx, &pinpoint.DeleteUserEndpointsInput{
			ApplicationId: aws.String(e.applicationID),
			UserId:        aws.String(userID),
		})
		if err != nil && !isNotFound(err) {
			return mapError("DeleteUserEndpoints", err)
		}
		return nil
	})
}
