package http

import (
	"context"

	"github.com/opentrusty/pulse/internal/organization"
	"github.com/opentrusty/pulse/internal/survey"
	"github.com/stretchr/testify/mock"
)

// Mock Repository for Organization
type mockOrganizationRepo struct {
	mock.Mock
}

func (m *mockOrganizationRepo) Create(ctx context.Context, org *organization.Organization) error {
	args := m.Called(ctx, org)
	return args.Error(0)
}

func (m *mockOrganizationRepo) GetByID(ctx context.Context, id string) (*organization.Organization, error) {
	args := m.Called(ctx, id)
	if org, ok := args.Get(0).(*organization.Organization); ok {
		return org, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOrganizationRepo) List(ctx context.Context, limit, offset int) ([]*organization.Organization, error) {
	args := m.Called(ctx, limit, offset)
	if orgs, ok := args.Get(0).([]*organization.Organization); ok {
		return orgs, args.Error(1)
	}
	return nil, args.Error(1)
}

// Mock Repository for Members
type mockMemberRepo struct {
	mock.Mock
}

func (m *mockMemberRepo) AddMember(ctx context.Context, member *organization.Member) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *mockMemberRepo) ListMembers(ctx context.Context, organizationID string) ([]*organization.Member, error) {
	args := m.Called(ctx, organizationID)
	if members, ok := args.Get(0).([]*organization.Member); ok {
		return members, args.Error(1)
	}
	return nil, args.Error(1)
}

// Mock Repository for Survey Responses
type mockSurveyRepo struct {
	mock.Mock
}

func (m *mockSurveyRepo) Create(ctx context.Context, r *survey.Response) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockSurveyRepo) ListMine(ctx context.Context, limit int) ([]*survey.Response, error) {
	args := m.Called(ctx, limit)
	if responses, ok := args.Get(0).([]*survey.Response); ok {
		return responses, args.Error(1)
	}
	return nil, args.Error(1)
}
