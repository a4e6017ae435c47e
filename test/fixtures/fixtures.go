package fixtures

import (
	"fmt"

	"github.com/nimasrn/sponsorship-gateway/internal/model"
)

var (
	Student  = model.Actor{ID: "student-1", Role: model.RoleStudent}
	Student2 = model.Actor{ID: "student-2", Role: model.RoleStudent}
	Manager  = model.Actor{ID: "manager-1", Role: model.RoleManager}
	Admin    = model.Actor{ID: "admin-1", Role: model.RoleAdmin}
	Donor    = model.Actor{ID: "donor-1", Role: model.RoleDonor}
)

// Payload returns a valid application payload for email.
func Payload(email string) model.ApplicationPayload {
	return model.ApplicationPayload{
		FirstName:        "Amina",
		LastName:         "Uwase",
		Email:            email,
		Phone:            "250788123456",
		DateOfBirth:      "2003-04-12",
		Gender:           "female",
		Country:          "Rwanda",
		City:             "Kigali",
		FamilyBackground: "raised by a single parent",
		HouseholdSize:    5,
		Institution:      "University of Rwanda",
		FieldOfStudy:     "Computer Science",
		AcademicLevel:    "undergraduate",
		GPA:              "3.7",
		FundingPurpose:   "tuition and books",
		FundingRequested: 120000,
		Documents:        []string{"https://blobs.local/transcript.pdf"},
		Gallery:          []string{"https://blobs.local/photo.jpg"},
	}
}

// PayloadN is Payload with a distinct email per n.
func PayloadN(n int) model.ApplicationPayload {
	return Payload(fmt.Sprintf("student%d@example.org", n))
}

var (
	ValidPhoneNumbers = []string{
		"250788123456",
		"+256772123456",
		"0788123456",
	}

	InvalidPhoneNumbers = []string{
		"",
		"12345",
		"078812345",
	}

	InvalidAmounts = []string{
		"",
		"-5",
		"0",
		"0.00",
		"abc",
		"10.123",
		"1e3",
	}
)

func GuestOrder(studentID, amount string, method model.PaymentMethod, phone string) model.CreateOrderRequest {
	return model.CreateOrderRequest{
		StudentID:   studentID,
		Amount:      amount,
		Method:      method,
		Donor:       model.GuestDonor(),
		PhoneNumber: phone,
	}
}

func RegisteredOrder(studentID, amount string, method model.PaymentMethod, phone string) model.CreateOrderRequest {
	return model.CreateOrderRequest{
		StudentID:   studentID,
		Amount:      amount,
		Method:      method,
		Donor:       model.RegisteredDonor(Donor.ID),
		PhoneNumber: phone,
	}
}
