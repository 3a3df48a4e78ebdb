package distribution

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Shipyard/internal/domain"
)

func sub(p domain.Platform, st domain.SubmissionStatus, pct float64) domain.Submission {
	return domain.Submission{ID: uuid.New(), Platform: p, Status: st, RolloutPercent: pct}
}

func wentLive(s domain.Submission) domain.Submission {
	at := time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)
	s.LiveAt = &at
	return s
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name string
		subs []domain.Submission
		want domain.DistributionStatus
	}{
		{
			name: "no submissions",
			want: domain.DistributionStatusPending,
		},
		{
			name: "all pending",
			subs: []domain.Submission{
				sub(domain.PlatformAndroid, domain.SubmissionStatusPending, 0),
				sub(domain.PlatformIOS, domain.SubmissionStatusPending, 0),
			},
			want: domain.DistributionStatusPending,
		},
		{
			name: "one in review",
			subs: []domain.Submission{
				sub(domain.PlatformAndroid, domain.SubmissionStatusInReview, 0),
				sub(domain.PlatformIOS, domain.SubmissionStatusPending, 0),
			},
			want: domain.DistributionStatusPartiallySubmitted,
		},
		{
			name: "all submitted",
			subs: []domain.Submission{
				sub(domain.PlatformAndroid, domain.SubmissionStatusApproved, 0),
				sub(domain.PlatformIOS, domain.SubmissionStatusInReview, 0),
			},
			want: domain.DistributionStatusSubmitted,
		},
		{
			name: "android live at 60, ios in review",
			subs: []domain.Submission{
				sub(domain.PlatformAndroid, domain.SubmissionStatusLive, 60),
				sub(domain.PlatformIOS, domain.SubmissionStatusInReview, 0),
			},
			want: domain.DistributionStatusPartiallyReleased,
		},
		{
			name: "live while other pending",
			subs: []domain.Submission{
				sub(domain.PlatformAndroid, domain.SubmissionStatusLive, 100),
				sub(domain.PlatformIOS, domain.SubmissionStatusPending, 0),
			},
			want: domain.DistributionStatusPartiallyReleased,
		},
		{
			name: "paused counts as released to users",
			subs: []domain.Submission{
				sub(domain.PlatformIOS, domain.SubmissionStatusPaused, 5),
			},
			want: domain.DistributionStatusPartiallyReleased,
		},
		{
			name: "android halted after live at 30, ios in review",
			subs: []domain.Submission{
				wentLive(sub(domain.PlatformAndroid, domain.SubmissionStatusHalted, 30)),
				sub(domain.PlatformIOS, domain.SubmissionStatusInReview, 0),
			},
			want: domain.DistributionStatusPartiallyReleased,
		},
		{
			name: "both live at 100",
			subs: []domain.Submission{
				sub(domain.PlatformAndroid, domain.SubmissionStatusLive, 100),
				sub(domain.PlatformIOS, domain.SubmissionStatusLive, 100),
			},
			want: domain.DistributionStatusReleased,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.subs)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if again := DeriveStatus(tt.subs); again != got {
				t.Errorf("derivation is not deterministic: %s then %s", got, again)
			}
		})
	}
}

func TestDeriveStatus_IgnoresSuperseded(t *testing.T) {
	next := uuid.New()
	rejected := sub(domain.PlatformAndroid, domain.SubmissionStatusRejected, 0)
	rejected.SupersededBy = &next
	live := sub(domain.PlatformAndroid, domain.SubmissionStatusLive, 100)
	live.ID = next

	got := DeriveStatus([]domain.Submission{rejected, live})
	if got != domain.DistributionStatusReleased {
		t.Errorf("expected RELEASED, got %s", got)
	}
}

func TestIncrementVersion(t *testing.T) {
	got, err := IncrementVersion("4.12.0")
	if err != nil || got != "4.12.1" {
		t.Errorf("expected 4.12.1, got %q (%v)", got, err)
	}
	got, err = IncrementVersion("7")
	if err != nil || got != "8" {
		t.Errorf("expected 8, got %q (%v)", got, err)
	}
	if _, err := IncrementVersion("4.12.beta"); err == nil {
		t.Error("expected error for non-numeric segment")
	}
}
