package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name:       "unique_violation_matching_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "connected_domains_pkey"},
			constraint: "connected_domains_pkey",
			want:       true,
		},
		{
			name:       "unique_violation_any_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "account_connected_domains_pkey"},
			constraint: "",
			want:       true,
		},
		{
			name:       "unique_violation_different_constraint",
			err:        &pq.Error{Code: "23505", Constraint: "account_connected_domains_pkey"},
			constraint: "connected_domains_pkey",
			want:       false,
		},
		{
			name:       "check_violation_is_not_unique",
			err:        &pq.Error{Code: "23514"},
			constraint: "",
			want:       false,
		},
		{
			name:       "wrapped_unique_violation",
			err:        fmt.Errorf("upsert: %w", &pq.Error{Code: "23505"}),
			constraint: "",
			want:       true,
		},
		{
			name: "not_pq_error",
			err:  errors.New("some other error"),
			want: false,
		},
		{
			name: "nil_error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err, tt.constraint))
		})
	}
}

func TestIsCheckViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name:       "status_check",
			err:        &pq.Error{Code: "23514", Constraint: "connected_domains_status_check"},
			constraint: "connected_domains_status_check",
			want:       true,
		},
		{
			name: "any_check",
			err:  &pq.Error{Code: "23514", Constraint: "connected_domains_status_check"},
			want: true,
		},
		{
			name: "unique_is_not_check",
			err:  &pq.Error{Code: "23505"},
			want: false,
		},
		{
			name: "plain_error",
			err:  errors.New("boom"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCheckViolation(tt.err, tt.constraint))
		})
	}
}
