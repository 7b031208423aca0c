package ceremony

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Record is the parsed form of a signed record. It is either a
// *ContributionRecord or a *VerificationRecord.
type Record interface {
	Role() Role
	Hashes() (challenge, response string)
}

// ContributionRecord is what a contributor signs: the hash of the challenge it
// consumed and the hash of the response it produced.
type ContributionRecord struct {
	ChallengeHash string `json:"challengeHash"`
	ResponseHash  string `json:"responseHash"`
}

// VerificationRecord is what a verifier signs. NewChallengeHash is the input
// the next contributor must consume.
type VerificationRecord struct {
	ChallengeHash    string `json:"challengeHash"`
	ResponseHash     string `json:"responseHash"`
	NewChallengeHash string `json:"newChallengeHash"`
}

func (r *ContributionRecord) Role() Role { return Contributor }

func (r *ContributionRecord) Hashes() (string, string) { return r.ChallengeHash, r.ResponseHash }

func (r *VerificationRecord) Role() Role { return Verifier }

func (r *VerificationRecord) Hashes() (string, string) { return r.ChallengeHash, r.ResponseHash }

// ParseRecord validates the shape of sd for the given role once, at the
// deserialization boundary. Every missing field is reported.
func ParseRecord(role Role, sd *SignedData) (Record, error) {
	switch role {
	case Contributor:
		return ParseContributionRecord(sd)
	case Verifier:
		return ParseVerificationRecord(sd)
	default:
		return nil, fmt.Errorf("%w: unknown role %d", ErrMalformedRecord, role)
	}
}

// ParseContributionRecord parses a contributor's signed record.
func ParseContributionRecord(sd *SignedData) (*ContributionRecord, error) {
	var rec ContributionRecord
	var result *multierror.Error
	result = multierror.Append(result, decodeSigned(sd, &rec)...)
	if result.ErrorOrNil() == nil {
		result = multierror.Append(result, required("challengeHash", rec.ChallengeHash)...)
		result = multierror.Append(result, required("responseHash", rec.ResponseHash)...)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &rec, nil
}

// ParseVerificationRecord parses a verifier's signed record.
func ParseVerificationRecord(sd *SignedData) (*VerificationRecord, error) {
	var rec VerificationRecord
	var result *multierror.Error
	result = multierror.Append(result, decodeSigned(sd, &rec)...)
	if result.ErrorOrNil() == nil {
		result = multierror.Append(result, required("challengeHash", rec.ChallengeHash)...)
		result = multierror.Append(result, required("responseHash", rec.ResponseHash)...)
		result = multierror.Append(result, required("newChallengeHash", rec.NewChallengeHash)...)
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return &rec, nil
}

func decodeSigned(sd *SignedData, v interface{}) []error {
	if sd == nil {
		return []error{errors.New("missing signed data")}
	}
	var errs []error
	if sd.Signature == "" {
		errs = append(errs, errors.New("missing signature"))
	}
	if len(sd.Data) == 0 {
		return append(errs, errors.New("missing data"))
	}
	if err := json.Unmarshal(sd.Data, v); err != nil {
		errs = append(errs, fmt.Errorf("data is not a record object: %w", err))
	}
	return errs
}

func required(field, value string) []error {
	if value == "" {
		return []error{fmt.Errorf("missing %s", field)}
	}
	return nil
}
