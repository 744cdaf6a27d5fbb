package ipdr

import (
	"fmt"
	"net/mail"
)

// NormalizeProfile converts a raw profile row into a Profile. phoneNumber,
// imei and imsi are required; everything else is optional.
func (n *Normalizer) NormalizeProfile(row RawRow) (Profile, error) {
	for _, field := range []string{FieldPhoneNumber, FieldIMEI, FieldIMSI} {
		if !row.Has(field) {
			return Profile{}, missingField(field)
		}
	}

	var (
		p   Profile
		err error
	)
	if p.PhoneNumber, err = digitsField(row, FieldPhoneNumber, 10); err != nil {
		return Profile{}, err
	}
	if p.IMEI, err = digitsField(row, FieldIMEI, 15); err != nil {
		return Profile{}, err
	}
	if p.IMSI, err = digitsField(row, FieldIMSI, 15); err != nil {
		return Profile{}, err
	}

	p.Name, _ = row.String("name")
	p.AadharNumber, _ = row.String("aadharNumber")
	p.Address, _ = row.String("address")
	p.Company, _ = row.String("company")
	p.Remarks, _ = row.String("remarks")

	if v, ok := row.Lookup("age"); ok {
		age, err := intValue(v)
		if err != nil {
			return Profile{}, invalidField("age", err)
		}
		if age < 0 || age > 150 {
			return Profile{}, invalidField("age", fmt.Errorf("%d is not a plausible age", age))
		}
		p.Age = int(age)
	}

	if email, ok := row.String("email"); ok {
		if _, err := mail.ParseAddress(email); err != nil {
			return Profile{}, invalidField("email", err)
		}
		p.Email = email
	}

	p.AssociatedPhoneNumbers = []string{}
	if v, ok := row.Lookup("associatedPhoneNumbers"); ok {
		p.AssociatedPhoneNumbers = listValue(v)
	}
	p.AssociatedIMEIs = []string{}
	if v, ok := row.Lookup("associatedImeis"); ok {
		p.AssociatedIMEIs = listValue(v)
	}

	return p, nil
}
